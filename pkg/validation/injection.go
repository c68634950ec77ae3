package validation

import (
	"fmt"
	"regexp"
)

// Injection pattern classes scanned against every string leaf before the
// schema check. A match rejects the whole request with the field path.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sql", regexp.MustCompile(`(?i)(\bunion\b\s+\bselect\b|\bdrop\b\s+\btable\b|\binsert\b\s+\binto\b|\bdelete\b\s+\bfrom\b|--\s|;\s*--|\bor\b\s+1\s*=\s*1)`)},
	{"script", regexp.MustCompile(`(?i)(<\s*script[\s>]|javascript\s*:|on(?:error|load|click)\s*=)`)},
	{"path_traversal", regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/)`)},
}

// scanForInjection walks a decoded JSON value and returns a FieldError for
// the first string leaf matching a known injection pattern.
func scanForInjection(path string, v any) *FieldError {
	switch t := v.(type) {
	case string:
		for _, p := range injectionPatterns {
			if p.re.MatchString(t) {
				return &FieldError{
					Path:     path,
					Code:     "injection_detected",
					Expected: "clean input",
					Received: fmt.Sprintf("%s pattern", p.name),
				}
			}
		}
	case map[string]any:
		for k, val := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if fe := scanForInjection(childPath, val); fe != nil {
				return fe
			}
		}
	case []any:
		for i, val := range t {
			if fe := scanForInjection(fmt.Sprintf("%s[%d]", path, i), val); fe != nil {
				return fe
			}
		}
	}
	return nil
}
