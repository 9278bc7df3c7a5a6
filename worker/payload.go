package worker

// Payload field accessors. Bus and task payloads arrive as free-form maps
// decoded from JSON, so numbers may be float64 or int depending on origin.

func numField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func strField(payload map[string]any, key string) (string, bool) {
	s, ok := payload[key].(string)
	return s, ok
}

func mapField(payload map[string]any, key string) (map[string]any, bool) {
	m, ok := payload[key].(map[string]any)
	return m, ok
}

func sliceField(payload map[string]any, key string) ([]float64, bool) {
	raw, ok := payload[key].([]any)
	if !ok {
		if direct, ok := payload[key].([]float64); ok {
			return direct, true
		}
		return nil, false
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		default:
			return nil, false
		}
	}
	return out, true
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
