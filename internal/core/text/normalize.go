// Package text canonicalizes free-form question and name text and measures
// near-duplication between phrasings. Everything here is pure: no store, no
// network, no shared state.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition. For Arabic this
// drops the tashkeel range; for Latin it drops accents.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// arabicVariants unifies letters that are orthographically interchangeable in
// informal Arabic, so that two spellings of the same question compare equal.
var arabicVariants = strings.NewReplacer(
	"أ", "ا",
	"إ", "ا",
	"آ", "ا",
	"ة", "ه",
	"ى", "ي",
	"ؤ", "و",
	"ئ", "ي",
	"ـ", "",
)

// Normalize canonicalizes text: lower-cases, strips diacritics and
// punctuation, unifies Arabic letter variants, and collapses whitespace.
// Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = arabicVariants.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
