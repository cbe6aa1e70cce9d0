// Package templates fills {{key}} placeholders in message templates and holds
// the catalog of templates per notification type.
package templates

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render replaces every {{key}} occurrence with vars[key]. Keys absent from
// vars are left verbatim so a missing variable degrades the text instead of
// blocking delivery. Keys match literally; values are never re-expanded.
func Render(tpl string, vars map[string]string) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}

	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[2 : len(match)-2]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct keys referenced by tpl, sorted.
func Placeholders(tpl string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(tpl, -1)
	seen := make(map[string]struct{}, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	sort.Strings(keys)
	return keys
}

// Missing returns the placeholders of tpl that vars does not provide.
func Missing(tpl string, vars map[string]string) []string {
	var missing []string
	for _, key := range Placeholders(tpl) {
		if _, ok := vars[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// HasPlaceholders reports whether s still contains an unrendered placeholder.
func HasPlaceholders(s string) bool {
	return strings.Contains(s, "{{") && placeholderPattern.MatchString(s)
}
