package tools

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/aschepis/bpmai/llm"
)

// ValidationError describes arguments that do not fit a tool schema.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: parameter '%s' %s", e.Tool, e.Param, e.Reason)
}

// Validate checks args against the schema of spec and returns a copy with primitive values
// converted to their declared types. Required parameters must be present and non-empty.
// Parameters the schema does not declare pass through unchanged.
func Validate(spec llm.ToolSpec, args map[string]any) (map[string]any, error) {
	for _, name := range spec.Schema.Required {
		val, exists := args[name]
		if !exists {
			provided := lo.Keys(args)
			slices.Sort(provided)
			return nil, &ValidationError{
				Tool:   spec.Name,
				Param:  name,
				Reason: fmt.Sprintf("is required (provided: %v)", provided),
			}
		}
		if isEmptyValue(val) {
			return nil, &ValidationError{Tool: spec.Name, Param: name, Reason: "cannot be empty"}
		}
	}

	out := make(map[string]any, len(args))
	for name, val := range args {
		prop, declared := spec.Schema.Properties[name]
		if !declared || val == nil {
			out[name] = val
			continue
		}
		converted, err := convertValue(val, propertyType(prop))
		if err != nil {
			return nil, &ValidationError{Tool: spec.Name, Param: name, Reason: err.Error()}
		}
		out[name] = converted
	}
	return out, nil
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func propertyType(prop any) string {
	if m, ok := prop.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return ""
}

func convertValue(v any, typ string) (any, error) {
	switch typ {
	case "integer":
		return toInteger(v)
	case "number":
		return toNumber(v)
	case "boolean":
		return toBoolean(v)
	case "string":
		return toString(v)
	case "array":
		if _, ok := v.([]any); !ok {
			return nil, fmt.Errorf("must be an array, got %T", v)
		}
		return v, nil
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return nil, fmt.Errorf("must be an object, got %T", v)
		}
		return v, nil
	default:
		return v, nil
	}
}

func toInteger(v any) (any, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("cannot convert %v to integer", val)
		}
		return int64(val), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert '%s' to integer", val)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func toNumber(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert '%s' to number", val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to number", v)
	}
}

func toBoolean(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert '%s' to boolean", val)
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", v)
	}
}

func toString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64, int, int64, bool:
		return fmt.Sprint(val), nil
	default:
		return nil, fmt.Errorf("must be a string, got %T", v)
	}
}
