package alerts

import (
	"regexp"
	"strings"
)

// matchesPattern checks a name against a rule filter. Filters are
// case-insensitive regexes matched at the start of the value, with a glob
// convenience: a pattern containing "*" (and not starting with "^") is
// rewritten to a fully anchored regex. Empty patterns match everything; a
// pattern that fails to compile falls back to exact comparison.
func matchesPattern(value, pattern string) bool {
	if pattern == "" {
		return true
	}
	if strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "^") {
		pattern = "^" + strings.ReplaceAll(pattern, "*", ".*") + "$"
	}
	re, err := regexp.Compile("(?i)^(?:" + pattern + ")")
	if err != nil {
		return value == pattern
	}
	return re.MatchString(value)
}

func matchesAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if matchesPattern(value, p) {
			return true
		}
	}
	return false
}

// configInt reads an integer rule setting. JSON-decoded config carries
// numbers as float64.
func configInt(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// configStrings reads a string-list rule setting.
func configStrings(cfg map[string]any, key string) []string {
	if cfg == nil {
		return nil
	}
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
