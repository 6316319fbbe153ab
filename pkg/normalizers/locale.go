package normalizers

import (
	"strings"

	"github.com/Ramsey-B/sorrel/pkg/langdetect"
)

type family int

const (
	familyNeutral family = iota
	familyGerman
	familyUK
)

var germanCountries = map[string]bool{"DE": true, "AT": true, "CH": true, "LI": true}

// familyOf maps a country code ("DE"), a language code ("de") or a language tag ("de-AT", "en_GB")
// to the substitution rules that apply.
func familyOf(locale string) family {
	l := strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if l == "" {
		return familyNeutral
	}

	lang, region, tagged := strings.Cut(l, "-")
	if tagged {
		switch strings.ToLower(lang) {
		case "de":
			return familyGerman
		case "en":
			if r := strings.ToUpper(region); r == "GB" || r == "UK" {
				return familyUK
			}
		}
		return familyNeutral
	}

	if l == "de" {
		return familyGerman
	}
	upper := strings.ToUpper(l)
	if germanCountries[upper] {
		return familyGerman
	}
	if upper == "GB" || upper == "UK" {
		return familyUK
	}
	return familyNeutral
}

var languageLocales = map[string]string{
	"de": "DE",
	"en": "GB",
	"fr": "FR",
	"it": "IT",
	"es": "ES",
	"nl": "NL",
	"pl": "PL",
}

// KeyLocale returns the locale stored keys (name_normalized, slug) are computed with: the country,
// or the neutral locale when none is given. Keys of country-less records never depend on detection.
func KeyLocale(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

// LocaleFor returns the locale to compare name with: the country when one is given, otherwise the
// locale of the detected language, otherwise "". Detection only guides comparison; use KeyLocale for keys.
func LocaleFor(country, name string) string {
	if c := KeyLocale(country); c != "" {
		return c
	}
	return languageLocales[langdetect.DetectISO6391(name)]
}
