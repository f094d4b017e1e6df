// Package script defines the structure, parsing and execution of trs
// scripts.
package script

import (
	"fmt"
	"regexp"
	"strings"
)

// Script is a parsed script file.
type Script struct {
	// Path is the file path the script was loaded from.
	Path string

	// Name is an optional description of the script.
	Name string

	// Vars defines variables available to all steps.
	Vars map[string]any

	// Steps is the list of steps to execute.
	Steps []*Step
}

// Step is one binding call or include.
type Step struct {
	// Name is a description of the step.
	Name string

	// Binding is the name of the binding to call.
	Binding string

	// Params are the parameters passed to the binding.
	Params map[string]any

	// Include names another steps file to run in place of this step.
	Include string

	// Dir is the directory of the file the step was read from. Includes
	// are resolved against it first.
	Dir string

	// When is a conditional expression; the step runs only if true.
	When string

	// Register stores the step result in a variable with this name.
	Register string

	// Loop is a list of items, or an expression yielding one.
	Loop any

	// LoopVar is the variable name for the current item (default: "item").
	LoopVar string

	// IgnoreErrors continues the script when the step fails.
	IgnoreErrors bool
}

// identPattern matches valid variable names.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DisplayName returns the script name, or its path when unnamed.
func (s *Script) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Validate checks the script for common errors.
func (s *Script) Validate() error {
	return validateSteps(s.Steps)
}

func validateSteps(steps []*Step) error {
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			name := step.Name
			if name == "" {
				name = fmt.Sprintf("step %d", i+1)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// GetLoopVar returns the loop variable name, defaulting to "item".
func (s *Step) GetLoopVar() string {
	if s.LoopVar == "" {
		return "item"
	}
	return s.LoopVar
}

// Validate checks the step for common errors.
func (s *Step) Validate() error {
	switch {
	case s.Binding == "" && s.Include == "":
		return fmt.Errorf("step has no binding specified")
	case s.Binding != "" && s.Include != "":
		return fmt.Errorf("step cannot both include %s and call %s", s.Include, s.Binding)
	}

	if s.Register != "" && !identPattern.MatchString(s.Register) {
		return fmt.Errorf("invalid register name %q", s.Register)
	}
	if s.LoopVar != "" && !identPattern.MatchString(s.LoopVar) {
		return fmt.Errorf("invalid loop_var name %q", s.LoopVar)
	}

	if s.Loop != nil {
		switch s.Loop.(type) {
		case []any, string:
		default:
			return fmt.Errorf("loop must be a list or an expression")
		}
	}

	return nil
}

// String returns a human-readable description of the step.
func (s *Step) String() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Include != "" {
		return "include: " + s.Include
	}
	return fmt.Sprintf("%s: %v", s.Binding, summarizeParams(s.Params))
}

// summarizeParams creates a brief summary of step parameters.
func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}

	var parts []string
	for _, k := range sortedKeys(params) {
		switch val := params[k].(type) {
		case string:
			if k == "password" || k == "passphrase" {
				val = "******"
			}
			if len(val) > 30 {
				val = val[:27] + "..."
			}
			parts = append(parts, fmt.Sprintf("%s=%q", k, val))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
		if len(parts) >= 3 {
			parts = append(parts, "...")
			break
		}
	}

	return "{" + strings.Join(parts, ", ") + "}"
}
