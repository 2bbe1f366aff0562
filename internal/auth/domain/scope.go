package domain

import "strings"

// NormalizeScope trims each entry and drops empties and duplicates, keeping
// the first occurrence order. It returns nil for an empty result.
func NormalizeScope(scope []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ParseScope splits a space-delimited scope string.
func ParseScope(s string) []string {
	return NormalizeScope(strings.Fields(s))
}

// FormatScope joins a scope into its space-delimited form.
func FormatScope(scope []string) string {
	return strings.Join(NormalizeScope(scope), " ")
}
