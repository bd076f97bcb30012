// Package slug turns post titles into URL-safe identifiers and keeps them unique.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is returned when a title has no usable characters.
const Fallback = "post"

// letters that do not decompose into an ASCII base letter plus a mark, or whose
// lower-case form is not what a reader expects (İ lower-cases to "i̇").
var substitutions = strings.NewReplacer(
	"ç", "c", "Ç", "c",
	"ğ", "g", "Ğ", "g",
	"ı", "i", "İ", "i",
	"ö", "o", "Ö", "o",
	"ş", "s", "Ş", "s",
	"ü", "u", "Ü", "u",
	"ß", "ss",
	"æ", "ae", "Æ", "ae",
	"ø", "o", "Ø", "o",
	"œ", "oe", "Œ", "oe",
	"đ", "d", "Đ", "d",
	"ł", "l", "Ł", "l",
)

// Make derives the canonical slug for title.
func Make(title string) string {
	s := strings.ToLower(substitutions.Replace(title))
	s = stripMarks(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || r == '_' || unicode.IsSpace(r):
			pendingDash = true
		}
	}

	if b.Len() == 0 {
		return Fallback
	}
	return b.String()
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
