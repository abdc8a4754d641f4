package execlog

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// Sanitizer redacts configured sensitive keys from structured log payloads
// before they are stored. Matching is case-insensitive on key substrings so
// "apiKey", "API_KEY" and "slack_token" are all caught by their configured
// stems.
type Sanitizer struct {
	keys []string
}

func NewSanitizer(sensitiveKeys []string) *Sanitizer {
	keys := make([]string, 0, len(sensitiveKeys))
	for _, k := range sensitiveKeys {
		keys = append(keys, strings.ToLower(k))
	}
	return &Sanitizer{keys: keys}
}

func (s *Sanitizer) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range s.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of data with sensitive values replaced. The input
// is never mutated; nested maps and slices are walked recursively.
func (s *Sanitizer) Sanitize(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		if s.sensitive(key) {
			out[key] = redactedValue
			continue
		}
		out[key] = s.sanitizeValue(value)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return s.Sanitize(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
