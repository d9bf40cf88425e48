package clonechat

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidthChars replaces invisible codepoints that survive platform
// round-trips and break filesystem names and text comparisons.
var zeroWidthChars = strings.NewReplacer(
	"​", " ", // zero-width space
	"‌", " ", // zero-width non-joiner
	"‍", " ", // zero-width joiner
	"\uFEFF", " ", // zero-width no-break space
	"⁠", " ", // word joiner
	"᠎", " ", // mongolian vowel separator
	"­", "", // soft hyphen
)

// maxFilenameLen keeps sanitized names well under common filesystem
// limits even with a directory prefix in front.
const maxFilenameLen = 200

// NormalizeText strips zero-width characters and applies NFKC so that
// visually identical strings compare equal.
func NormalizeText(s string) string {
	return norm.NFKC.String(zeroWidthChars.Replace(s))
}

// SanitizeFilename makes s safe to use as a single path element on
// common filesystems. Empty results become "unnamed".
func SanitizeFilename(s string) string {
	s = NormalizeText(s)
	for _, c := range `/\:*?"<>|` {
		s = strings.ReplaceAll(s, string(c), "_")
	}
	s = strings.ReplaceAll(s, "\n", "_")
	s = strings.ReplaceAll(s, "\r", "_")
	s = strings.ReplaceAll(s, "\t", "_")
	s = strings.Trim(s, " .")
	if len(s) > maxFilenameLen {
		// ToValidUTF8 drops the rune split by the byte cut, if any.
		s = strings.ToValidUTF8(s[:maxFilenameLen], "")
		s = strings.Trim(s, " .")
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

// TruncateText caps s at limit runes, appending an ellipsis when text
// had to be cut.
func TruncateText(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
