package agents

import "encoding/json"

// Config and input maps arrive as decoded JSON, so numbers are float64
// unless a caller built the map in code. These helpers accept both.

func stringParam(m map[string]interface{}, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(m map[string]interface{}, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	if v, ok := numberValue(m[key]); ok {
		return int(v)
	}
	return fallback
}

func floatParam(m map[string]interface{}, key string, fallback float64) float64 {
	if m == nil {
		return fallback
	}
	if v, ok := numberValue(m[key]); ok {
		return v
	}
	return fallback
}

func boolParam(m map[string]interface{}, key string, fallback bool) bool {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return fallback
}

func mapParam(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func sliceParam(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	}
	return nil
}

func stringSliceParam(m map[string]interface{}, key string) []string {
	var out []string
	for _, v := range sliceParam(m, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// numberValue extracts a numeric value from any JSON-compatible shape.
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
