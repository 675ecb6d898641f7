package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The helpers below read loosely typed model output. They never fail: the
// boolean reports whether a usable value was present.

func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func List(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// Int accepts JSON numbers and numeric strings. Fractions are truncated.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		return parseIntText(n.String())
	case float64:
		return floatToInt(n)
	case float32:
		return floatToInt(float64(n))
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case string:
		return parseIntText(n)
	default:
		return 0, false
	}
}

func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// Strings keeps only the string members of a list.
func Strings(v any) []string {
	items, ok := List(v)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseIntText(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if parsed, err := strconv.ParseInt(text, 10, 64); err == nil {
		return parsed, true
	}
	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt(parsed)
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
