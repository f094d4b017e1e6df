package script

import (
	"fmt"
	"os"
	"path/filepath"
)

// LibDir is the library directory searched relative to the working
// directory.
const LibDir = "libs"

// ResolveInclude finds an included file. Absolute names are used as is;
// relative names are looked up in each of dirs in order.
func ResolveInclude(name string, dirs []string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("include '%s' not found: %w", name, err)
		}
		return name, nil
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("error accessing include '%s': %w", path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("include '%s' is a directory", path)
		}
		return path, nil
	}

	return "", fmt.Errorf("include '%s' not found in %v", name, dirs)
}

// LoadSteps loads the steps of an included file. The file is either a list
// of steps or a full script; the vars of a full script are returned too.
func LoadSteps(path string) ([]*Step, map[string]any, error) {
	s, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	return s.Steps, s.Vars, nil
}

// SearchPath returns the directories an include in dir is resolved
// against: dir itself, ./libs and the extra library paths.
func SearchPath(dir string, libs []string) []string {
	dirs := make([]string, 0, len(libs)+2)
	dirs = append(dirs, dir, LibDir)
	return append(dirs, libs...)
}
