package urlutil

import (
	"regexp"
	"strconv"
	"strings"
)

// The library appends " (2)", " (3)", ... to titles when it stores a
// duplicate. These helpers let the cleaner pick the original copy.

var (
	nameSuffixRe = regexp.MustCompile(`\s*\((\d+)\)\s*$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func StripNameSuffix(name string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
	normalized = nameSuffixRe.ReplaceAllString(normalized, "")
	return strings.TrimSpace(normalized)
}

func HasNameSuffix(name string) bool {
	return nameSuffixRe.MatchString(strings.TrimSpace(name))
}

func NameSuffixValue(name string) int {
	m := nameSuffixRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
