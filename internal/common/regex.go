package common

import (
	"regexp"
	"strings"
)

// Matcher matches text against a pattern without regard to case. Patterns
// that fail to compile fall back to a literal substring match.
type Matcher struct {
	re      *regexp.Regexp
	literal string
}

// CompilePattern builds a case-insensitive Matcher for pattern.
func CompilePattern(pattern string) Matcher {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Matcher{literal: strings.ToUpper(pattern)}
	}
	return Matcher{re: re}
}

// IsRegex reports whether the pattern compiled.
func (m Matcher) IsRegex() bool {
	return m.re != nil
}

// Match reports whether any of the texts match.
func (m Matcher) Match(texts ...string) bool {
	for _, t := range texts {
		if m.re != nil {
			if m.re.MatchString(t) {
				return true
			}
			continue
		}
		if m.literal != "" && strings.Contains(strings.ToUpper(t), m.literal) {
			return true
		}
	}
	return false
}
