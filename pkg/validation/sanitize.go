package validation

import (
	"strings"
	"unicode"
)

// sanitizeString normalizes control bytes and whitespace: each run of
// control characters, newlines, tabs and spaces becomes a single space,
// U+FFFD replacement characters are dropped, and leading/trailing space is
// trimmed.
func sanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r == unicode.ReplacementChar:
			continue
		case unicode.IsControl(r) || unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// sanitizeValue walks a decoded JSON value and sanitizes every string leaf.
// The input is not mutated; a sanitized copy is returned.
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return sanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[sanitizeString(k)] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	default:
		return v
	}
}
