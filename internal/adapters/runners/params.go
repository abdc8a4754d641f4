package runners

import (
	"fmt"
	"strings"
)

func stringParam(params map[string]interface{}, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	value, ok := params[key].(string)
	return value, ok
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func mapParam(params map[string]interface{}, key string) (map[string]interface{}, bool) {
	if params == nil {
		return nil, false
	}
	value, ok := params[key].(map[string]interface{})
	return value, ok
}

// lookupField resolves a dotted path ("response.status") against a value.
// An empty field returns the value itself.
func lookupField(value interface{}, field string) (interface{}, bool) {
	if field == "" {
		return value, true
	}
	current := value
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// asSlice normalizes a collection-valued input.
func asSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

func numeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func scalarString(value interface{}) string {
	return fmt.Sprintf("%v", value)
}
