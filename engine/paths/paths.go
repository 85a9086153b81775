// Package paths implements dotted-path access over heterogeneous
// JSON-like values. Missing segments collapse to nil rather than an error;
// the evaluator and templater treat absent as null.
package paths

import (
	"strconv"
	"strings"
)

// Resolve walks root along a dotted path like "vars.input.amount",
// "nodes.if1.output.result", "$.a.b" or bare "a.b". Numeric segments index
// sequences. A missing segment yields nil.
func Resolve(root any, path string) any {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	if path == "" || path == "$" {
		return root
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil
		}
		current = step(current, segment)
		if current == nil {
			return nil
		}
	}
	return current
}

func step(value any, segment string) any {
	switch v := value.(type) {
	case map[string]any:
		return v[segment]
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil
		}
		return v[idx]
	default:
		return nil
	}
}

// IsBarePath reports whether s looks like a plain dotted lookup
// (identifiers and numeric indexes joined by dots, optionally rooted at $).
// Such strings are resolved directly instead of going through the
// expression compiler, which keeps absent-means-null semantics for deep
// lookups.
func IsBarePath(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$.")
	if s == "" {
		return false
	}
	for _, segment := range strings.Split(s, ".") {
		if segment == "" {
			return false
		}
		for _, r := range segment {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			case r >= '0' && r <= '9':
			default:
				return false
			}
		}
	}
	return true
}
