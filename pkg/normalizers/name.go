// Package normalizers turns raw display names into the comparison keys used by resolution, matching
// and scanning.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that carry no combining mark and therefore survive accent stripping
var latinFold = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"đ", "d",
	"ð", "d",
	"ł", "l",
	"þ", "th",
	"ı", "i",
)

var germanUmlauts = strings.NewReplacer(
	"ä", "a",
	"ö", "o",
	"ü", "u",
	"ß", "ss",
)

var germanDigraphs = strings.NewReplacer(
	"ae", "a",
	"oe", "o",
	"ue", "u",
)

var ukPhrases = strings.NewReplacer(
	"saint ", "st ",
	"-upon-", " upon ",
)

// Normalize returns the comparison key of name: lowercase, locale folded, accent free and
// stripped of everything that is not a letter or digit. Normalize(Normalize(x, l), l) == Normalize(x, l).
func Normalize(name, locale string) string {
	s := prepare(name, locale)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return foldDigraphs(b.String(), locale)
}

// Slug returns a URL safe form of name built from [a-z0-9-].
func Slug(name, locale string) string {
	s := prepare(name, locale)

	var b strings.Builder
	b.Grow(len(s))
	hyphen := false
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLower(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			hyphen = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	return strings.Trim(foldDigraphs(b.String(), locale), "-")
}

func prepare(name, locale string) string {
	s := strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))

	switch familyOf(locale) {
	case familyGerman:
		s = germanUmlauts.Replace(s)
	case familyUK:
		s = ukPhrases.Replace(s)
	}

	s = latinFold.Replace(s)
	return stripMarks(s)
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// foldDigraphs collapses ae/oe/ue for German locales until nothing changes, so that a second pass
// cannot create new digraphs.
func foldDigraphs(s, locale string) string {
	if familyOf(locale) != familyGerman {
		return s
	}
	for {
		next := germanDigraphs.Replace(s)
		if next == s {
			return s
		}
		s = next
	}
}
