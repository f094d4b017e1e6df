// Package facts gathers system information through an open shell.
package facts

import "strings"

// Shell runs a command and returns its output. *session.Handle implements
// it.
type Shell interface {
	Exec(cmd string, prompt *string, withPrompt bool) (failed bool, out string)
}

// envVars are the environment variables reported under "env".
var envVars = []string{"PATH", "SHELL", "LANG", "TERM"}

// Gather collects system facts. Commands that fail or print nothing leave
// their facts unset.
func Gather(sh Shell) map[string]any {
	facts := make(map[string]any)

	for k, v := range gatherOSInfo(sh) {
		facts[k] = v
	}

	setIfOK(facts, "hostname", sh, "hostname")
	setIfOK(facts, "user", sh, "whoami")
	setIfOK(facts, "home", sh, "echo $HOME")

	env := make(map[string]any)
	for _, name := range envVars {
		setIfOK(env, name, sh, "echo $"+name)
	}
	facts["env"] = env

	return facts
}

// run executes cmd and returns its trimmed output.
func run(sh Shell, cmd string) (string, bool) {
	failed, out := sh.Exec(cmd, nil, false)
	if failed {
		return "", false
	}
	out = strings.TrimSpace(out)
	return out, out != ""
}

// distro is the family and package manager of a Linux distribution.
type distro struct {
	family     string
	pkgManager string
}

// distros maps /etc/os-release IDs to their family.
var distros = map[string]distro{
	"ubuntu":    {"Debian", "apt"},
	"debian":    {"Debian", "apt"},
	"linuxmint": {"Debian", "apt"},
	"pop":       {"Debian", "apt"},
	"fedora":    {"RedHat", "dnf"},
	"rhel":      {"RedHat", "dnf"},
	"centos":    {"RedHat", "dnf"},
	"rocky":     {"RedHat", "dnf"},
	"almalinux": {"RedHat", "dnf"},
	"arch":      {"Arch", "pacman"},
	"manjaro":   {"Arch", "pacman"},
	"alpine":    {"Alpine", "apk"},
	"opensuse":  {"Suse", "zypper"},
	"sles":      {"Suse", "zypper"},
}

// gatherOSInfo reports the kernel name, distribution and architecture.
func gatherOSInfo(sh Shell) map[string]any {
	info := make(map[string]any)

	kernelName, ok := run(sh, "uname -s")
	if !ok {
		return info
	}
	info["os_type"] = kernelName
	info["os_family"] = kernelName

	switch kernelName {
	case "Darwin":
		info["pkg_manager"] = "brew"
		setIfOK(info, "os_version", sh, "sw_vers -productVersion")
		setIfOK(info, "os_name", sh, "sw_vers -productName")

	case "Linux":
		content, ok := run(sh, "cat /etc/os-release 2>/dev/null")
		if !ok {
			break
		}
		release := parseOSRelease(content)
		for key, fact := range map[string]string{
			"ID":          "distribution",
			"VERSION_ID":  "distribution_version",
			"PRETTY_NAME": "os_name",
		} {
			if v, ok := release[key]; ok {
				info[fact] = v
			}
		}
		if d, ok := distros[release["ID"]]; ok {
			info["os_family"] = d.family
			info["pkg_manager"] = d.pkgManager
		}
	}

	if machine, ok := run(sh, "uname -m"); ok {
		info["architecture"] = machine
		info["arch"] = normalizeArch(machine)
	}
	setIfOK(info, "kernel", sh, "uname -r")

	return info
}

// setIfOK stores the output of cmd under key when it has any.
func setIfOK(facts map[string]any, key string, sh Shell, cmd string) {
	if v, ok := run(sh, cmd); ok {
		facts[key] = v
	}
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l":
		return "arm"
	default:
		return arch
	}
}

// parseOSRelease reads KEY=value lines, unquoting values.
func parseOSRelease(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields
}
