package textutil

import "strings"

// NormalizeStringMap trims keys and values and drops entries whose key is
// empty after trimming. Nil is returned when nothing survives, so callers can
// use the result directly as an omitempty field or message attribute set.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
