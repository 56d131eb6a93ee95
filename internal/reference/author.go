package reference

import (
	"strings"
	"unicode/utf8"
)

// SplitAuthors splits a free-text author list. Semicolons take precedence
// over commas since exports like "Smith, J.; Doe, A." use commas inside names.
func SplitAuthors(authors string) []string {
	sep := ","
	if strings.Contains(authors, ";") {
		sep = ";"
	}

	var names []string
	for _, name := range strings.Split(authors, sep) {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ShortAuthors formats at most maxCount authors followed by "et al.".
func ShortAuthors(authors string, maxCount int) string {
	names := SplitAuthors(authors)
	if len(names) <= maxCount {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:maxCount], ", ") + " et al."
}

// TruncateUTF8 truncates text to at most maxLen bytes without splitting a
// multi-byte character.
func TruncateUTF8(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	validLen := maxLen
	for validLen > 0 && !utf8.RuneStart(text[validLen]) {
		validLen--
	}
	return text[:validLen]
}

// tailUTF8 returns at most n trailing bytes of text, starting on a character
// boundary.
func tailUTF8(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}

	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}
