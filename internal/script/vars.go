package script

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// varPattern matches {{ variable }} syntax.
var varPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Scope holds the variables visible to steps: script vars, predefined
// vars and registered results.
type Scope struct {
	Vars map[string]any
}

// NewScope creates a scope with the predefined variables args, dir and env,
// overlaid by vars.
func NewScope(vars map[string]any, args []string, dir string) *Scope {
	s := &Scope{Vars: make(map[string]any)}

	list := make([]any, len(args))
	for i, a := range args {
		list[i] = a
	}
	s.Vars["args"] = list
	s.Vars["dir"] = dir
	s.Vars["env"] = envMap()

	for k, v := range vars {
		s.Vars[k] = v
	}
	return s
}

// Set assigns a variable.
func (s *Scope) Set(name string, v any) {
	s.Vars[name] = v
}

// SetDefault assigns a variable unless it is already set.
func (s *Scope) SetDefault(name string, v any) {
	if _, ok := s.Vars[name]; !ok {
		s.Vars[name] = v
	}
}

// Unset removes a variable.
func (s *Scope) Unset(name string) {
	delete(s.Vars, name)
}

// InterpolateParams recursively interpolates variables in step parameters.
func (s *Scope) InterpolateParams(params map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(params))

	for k, v := range params {
		interpolated, err := s.Interpolate(v)
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': %w", k, err)
		}
		result[k] = interpolated
	}

	return result, nil
}

// Interpolate interpolates variables in a single value.
func (s *Scope) Interpolate(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.interpolateString(val)

	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			interpolated, err := s.Interpolate(item)
			if err != nil {
				return nil, err
			}
			result[i] = interpolated
		}
		return result, nil

	case map[string]any:
		return s.InterpolateParams(val)

	default:
		return v, nil
	}
}

// interpolateString replaces {{ var }} patterns with their values. A string
// that is a single reference yields the value itself, not its text.
func (s *Scope) interpolateString(str string) (any, error) {
	trimmed := strings.TrimSpace(str)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			return s.resolve(inner)
		}
	}

	var firstErr error
	result := varPattern.ReplaceAllStringFunc(str, func(match string) string {
		inner := varPattern.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}

		val, err := s.resolve(inner[1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		if val == nil {
			return match
		}
		return fmt.Sprint(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}

	return result, nil
}

// resolve evaluates "name" or "name | filter(arg) | ...".
func (s *Scope) resolve(expr string) (any, error) {
	parts := strings.Split(expr, "|")
	val := s.Lookup(strings.TrimSpace(parts[0]))

	for _, filter := range parts[1:] {
		var err error
		val, err = applyFilter(val, strings.TrimSpace(filter))
		if err != nil {
			return nil, err
		}
	}
	return val, nil
}

// Lookup returns a variable by name or dotted path. Path elements index
// maps and, when numeric, lists. Unknown names yield nil.
func (s *Scope) Lookup(name string) any {
	if val, ok := s.Vars[name]; ok {
		return val
	}
	if !strings.Contains(name, ".") {
		return nil
	}

	var current any = s.Vars
	for _, part := range strings.Split(name, ".") {
		switch c := current.(type) {
		case map[string]any:
			current = c[part]
		case map[string]string:
			v, ok := c[part]
			if !ok {
				return nil
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(c) {
				return nil
			}
			current = c[i]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}
	return current
}

// applyFilter applies one filter to a value.
func applyFilter(val any, filter string) (any, error) {
	name := filter
	var arg string

	if idx := strings.Index(filter, "("); idx > 0 {
		name = strings.TrimSpace(filter[:idx])
		argPart := filter[idx+1:]
		if end := strings.LastIndex(argPart, ")"); end >= 0 {
			arg = strings.Trim(strings.TrimSpace(argPart[:end]), `'"`)
		}
	}

	switch name {
	case "default":
		if val == nil || val == "" {
			return arg, nil
		}
		return val, nil

	case "lower":
		if s, ok := val.(string); ok {
			return strings.ToLower(s), nil
		}
		return val, nil

	case "upper":
		if s, ok := val.(string); ok {
			return strings.ToUpper(s), nil
		}
		return val, nil

	case "trim":
		if s, ok := val.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return val, nil

	case "bool":
		return isTruthy(val), nil

	case "string":
		if val == nil {
			return "", nil
		}
		return fmt.Sprint(val), nil

	case "int":
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			i, _ := strconv.Atoi(strings.TrimSpace(v))
			return i, nil
		}
		return 0, nil

	case "first":
		if list, ok := val.([]any); ok && len(list) > 0 {
			return list[0], nil
		}
		return nil, nil

	case "last":
		if list, ok := val.([]any); ok && len(list) > 0 {
			return list[len(list)-1], nil
		}
		return nil, nil

	case "length", "count":
		switch v := val.(type) {
		case string:
			return len(v), nil
		case []any:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		}
		return 0, nil

	case "join":
		list, ok := val.([]any)
		if !ok {
			return val, nil
		}
		sep := arg
		if sep == "" {
			sep = ","
		}
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep), nil

	case "lines":
		if s, ok := val.(string); ok {
			var lines []any
			for _, l := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
				if l != "" {
					lines = append(lines, l)
				}
			}
			return lines, nil
		}
		return val, nil

	default:
		return nil, fmt.Errorf("unknown filter: %s", name)
	}
}

// Evaluate evaluates a when condition. It supports truthiness, not, and,
// or, == and != against literals or variables.
func (s *Scope) Evaluate(condition string) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	if parts := strings.SplitN(condition, " or ", 2); len(parts) == 2 {
		left, err := s.Evaluate(parts[0])
		if err != nil || left {
			return left, err
		}
		return s.Evaluate(parts[1])
	}

	if parts := strings.SplitN(condition, " and ", 2); len(parts) == 2 {
		left, err := s.Evaluate(parts[0])
		if err != nil || !left {
			return false, err
		}
		return s.Evaluate(parts[1])
	}

	if strings.HasPrefix(condition, "not ") {
		result, err := s.Evaluate(condition[4:])
		return !result, err
	}

	if strings.Contains(condition, "==") {
		parts := strings.SplitN(condition, "==", 2)
		left, err := s.value(parts[0], true)
		if err != nil {
			return false, err
		}
		right, err := s.value(parts[1], true)
		if err != nil {
			return false, err
		}
		return fmt.Sprint(left) == fmt.Sprint(right), nil
	}

	if strings.Contains(condition, "!=") {
		parts := strings.SplitN(condition, "!=", 2)
		left, err := s.value(parts[0], true)
		if err != nil {
			return false, err
		}
		right, err := s.value(parts[1], true)
		if err != nil {
			return false, err
		}
		return fmt.Sprint(left) != fmt.Sprint(right), nil
	}

	val, err := s.value(condition, false)
	if err != nil {
		return false, err
	}
	return isTruthy(val), nil
}

// value resolves an operand: a quoted string, a boolean or number literal,
// or a variable expression. With bareText, a word that names no variable is
// taken as text.
func (s *Scope) value(operand string, bareText bool) (any, error) {
	operand = strings.TrimSpace(operand)

	if len(operand) >= 2 &&
		((operand[0] == '\'' && operand[len(operand)-1] == '\'') ||
			(operand[0] == '"' && operand[len(operand)-1] == '"')) {
		return operand[1 : len(operand)-1], nil
	}

	switch operand {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	}

	if i, err := strconv.Atoi(operand); err == nil {
		return i, nil
	}

	if strings.HasPrefix(operand, "{{") {
		return s.interpolateString(operand)
	}

	if bareText {
		name := strings.TrimSpace(strings.SplitN(operand, "|", 2)[0])
		if _, ok := s.Vars[strings.SplitN(name, ".", 2)[0]]; !ok {
			return operand, nil
		}
	}
	return s.resolve(operand)
}

// isTruthy returns whether a value is considered truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "False" && val != "no"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// envMap returns environment variables as a map.
func envMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if idx := strings.Index(e, "="); idx > 0 {
			env[e[:idx]] = e[idx+1:]
		}
	}
	return env
}
