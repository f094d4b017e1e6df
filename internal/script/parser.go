package script

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/trs/internal/binding"
)

// knownStepFields are step directives, not binding names.
var knownStepFields = map[string]bool{
	"name":          true,
	"when":          true,
	"register":      true,
	"loop":          true,
	"with_items":    true,
	"loop_var":      true,
	"ignore_errors": true,
	"include":       true,
}

// ParseFile parses a script from a YAML file.
func ParseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	s, err := Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	return s, nil
}

// Parse parses a script from YAML data. The data is either a mapping with
// name, vars and steps, or a bare list of steps.
func Parse(data []byte, path string) (*Script, error) {
	s := &Script{Path: path, Vars: make(map[string]any)}
	dir := filepath.Dir(path)

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid script format: %w", err)
	}

	var rawSteps []any
	switch raw := doc.(type) {
	case nil:
		return s, nil
	case []any:
		rawSteps = raw
	case map[string]any:
		if v, ok := raw["name"].(string); ok {
			s.Name = v
		}
		if v, ok := raw["vars"]; ok && v != nil {
			vars, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("vars must be a mapping")
			}
			s.Vars = vars
		}
		if v, ok := raw["steps"]; ok && v != nil {
			steps, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("steps must be a list")
			}
			rawSteps = steps
		}
	default:
		return nil, fmt.Errorf("invalid script format: expected a mapping or a list of steps")
	}

	steps, err := parseSteps(rawSteps, dir)
	if err != nil {
		return nil, err
	}
	s.Steps = steps

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// StripShebang removes a leading "#!" line.
func StripShebang(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("#!")) {
		return data
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[i+1:]
	}
	return nil
}

func parseSteps(raw []any, dir string) ([]*Step, error) {
	steps := make([]*Step, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d: invalid step format", i+1)
		}
		step, err := parseRawStep(m)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		step.Dir = dir
		steps = append(steps, step)
	}
	return steps, nil
}

// parseRawStep parses a single step from a raw map.
func parseRawStep(raw map[string]any) (*Step, error) {
	step := &Step{
		Params: make(map[string]any),
	}

	if v, ok := raw["name"].(string); ok {
		step.Name = v
	}
	if v, ok := raw["when"]; ok {
		step.When = fmt.Sprint(v)
	}
	if v, ok := raw["register"].(string); ok {
		step.Register = v
	}
	if v, ok := raw["loop_var"].(string); ok {
		step.LoopVar = v
	}
	if v, ok := raw["ignore_errors"].(bool); ok {
		step.IgnoreErrors = v
	}
	if v, ok := raw["include"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("include must name a file")
		}
		step.Include = s
	}

	// Parse loop (can be "loop" or "with_items")
	if loop, ok := raw["loop"]; ok {
		step.Loop = loop
	} else if loop, ok := raw["with_items"]; ok {
		step.Loop = loop
	}

	// The binding is the one key that is not a directive
	for _, key := range sortedKeys(raw) {
		if knownStepFields[key] {
			continue
		}

		if step.Binding != "" {
			return nil, fmt.Errorf("multiple bindings specified: %s and %s", step.Binding, key)
		}
		step.Binding = key

		switch params := raw[key].(type) {
		case map[string]any:
			step.Params = params
		case nil:
			step.Params = make(map[string]any)
		default:
			step.Params = map[string]any{"_raw": params}
		}
	}

	return step, nil
}

// ExpandShorthand assigns a bare binding value to the binding's short
// parameter, as in "print: hello".
func ExpandShorthand(step *Step, b binding.Binding) error {
	raw, ok := step.Params["_raw"]
	if !ok {
		return nil
	}

	sp, ok := b.(binding.ShortParam)
	if !ok {
		return fmt.Errorf("binding '%s' needs named parameters", step.Binding)
	}
	step.Params = map[string]any{sp.ShortParam(): raw}
	return nil
}

// ResolveBinding checks that the step's binding is registered.
func ResolveBinding(step *Step) (binding.Binding, error) {
	if step.Binding == "" {
		return nil, fmt.Errorf("no binding specified")
	}

	b := binding.Get(step.Binding)
	if b == nil {
		return nil, fmt.Errorf("unknown binding '%s' (available: %s)",
			step.Binding, strings.Join(binding.List(), ", "))
	}
	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
