package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims input, collapses inner whitespace runs and control
// characters to a single space, and cuts it to maxLen bytes without
// splitting a rune. maxLen <= 0 disables the cut.
func SanitizeString(input string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(input))
	space := false
	for _, r := range strings.TrimSpace(input) {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if maxLen <= 0 || len(out) <= maxLen {
		return out
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}

// NormalizeEmail lowercases and trims an address before it reaches the
// unique index.
func NormalizeEmail(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
