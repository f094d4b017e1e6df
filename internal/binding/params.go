package binding

import (
	"fmt"
	"strconv"

	"github.com/eugenetaranov/trs/internal/session"
)

// RequireString returns the string parameter key. It must be present and
// not empty.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter '%s' is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter '%s' must be a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("parameter '%s' cannot be empty", key)
	}
	return s, nil
}

// GetString returns the string parameter key, or def when absent.
// Numbers and booleans are formatted.
func GetString(params map[string]any, key, def string) string {
	s := OptionalString(params, key)
	if s == nil {
		return def
	}
	return *s
}

// OptionalString returns the string parameter key, or nil when absent.
func OptionalString(params map[string]any, key string) *string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case int, int64, float64, bool:
		s = fmt.Sprint(val)
	default:
		return nil
	}
	return &s
}

// GetBool returns the boolean parameter key, or def when absent.
func GetBool(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("parameter '%s' must be a boolean", key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("parameter '%s' must be a boolean", key)
	}
}

// RequireConn returns the connection passed as parameter "conn".
func RequireConn(params map[string]any) (*session.Handle, error) {
	v, ok := params["conn"]
	if !ok || v == nil {
		return nil, fmt.Errorf("required parameter 'conn' is missing")
	}
	h, ok := v.(*session.Handle)
	if !ok {
		return nil, fmt.Errorf("parameter 'conn' must be a connection, got %T", v)
	}
	return h, nil
}
