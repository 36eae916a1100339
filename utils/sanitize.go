package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength bounds display names in runes.
const MaxDisplayNameLength = 64

var strict = bluemonday.StrictPolicy()

// Sanitize strips all markup from input and trims surrounding space.
func Sanitize(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// SanitizeDisplayName strips markup and truncates to MaxDisplayNameLength runes.
func SanitizeDisplayName(input string) string {
	s := Sanitize(input)
	if utf8.RuneCountInString(s) <= MaxDisplayNameLength {
		return s
	}
	return string([]rune(s)[:MaxDisplayNameLength])
}
