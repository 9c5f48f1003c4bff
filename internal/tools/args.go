package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(kind, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}

// stringArg returns args[key], or def when it is absent or empty.
func stringArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

func requiredString(args map[string]any, key string) (string, error) {
	s, err := stringArg(args, key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return s, nil
}

// intArg accepts integers as decoded by encoding/json (float64), jsoniter
// numbers, Go ints and numeric strings.
func intArg(args map[string]any, key string, def int, required bool) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("argument %q is required", key)
		}
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %q must be a whole number", key)
		}
		return int(n), nil
	case jsoniter.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %q must be a whole number", key)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("argument %q must be a whole number", key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}

// stringsArg accepts a JSON array of strings, a []string, or a single string
// of comma or space separated values.
func stringsArg(args map[string]any, key string) ([]string, error) {
	var out []string
	switch v := args[key].(type) {
	case nil:
		return nil, fmt.Errorf("argument %q is required", key)
	case []string:
		out = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q must be a list of strings", key)
			}
			out = append(out, s)
		}
	case string:
		out = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	default:
		return nil, fmt.Errorf("argument %q must be a list of strings", key)
	}
	cleaned := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned, nil
}
