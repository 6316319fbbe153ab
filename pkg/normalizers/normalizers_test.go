package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		locale   string
		expected string
	}{
		{"umlaut folds in german locale", "Köln", "DE", "koln"},
		{"transliteration folds in german locale", "Koeln", "DE", "koln"},
		{"austria is german speaking", "Wörgl", "AT", "worgl"},
		{"language tag", "Müller", "de-CH", "muller"},
		{"sharp s", "Weißenburg", "DE", "weissenburg"},
		{"punctuation and spaces removed", "Bad Homburg v.d. Höhe", "DE", "badhomburgvdhohe"},
		{"accents stripped without locale", "Café Zürich", "", "cafezurich"},
		{"transliteration kept without locale", "Koeln", "", "koeln"},
		{"uk saint", "Saint Albans", "GB", "stalbans"},
		{"uk upon", "Stratford-upon-Avon", "GB", "stratforduponavon"},
		{"non latin letters kept", "Москва", "RU", "москва"},
		{"empty", "  ", "DE", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input, tt.locale))
		})
	}
}

func TestNormalize_KolnEquivalence(t *testing.T) {
	assert.Equal(t, Normalize("Köln", "DE"), Normalize("Koeln", "DE"))
	assert.Equal(t, "koln", Normalize("Köln", "DE"))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Köln", "Koeln", "Oeeee", "Straße", "Saint Albans", "Stratford-upon-Avon",
		"o-e", "Quelle/Ueckermünde", "ÆØÅ", "  Gemeinde  Litzendorf ", "Bürgermeisteramt",
	}
	for _, locale := range []string{"", "DE", "GB", "FR"} {
		for _, in := range inputs {
			once := Normalize(in, locale)
			assert.Equal(t, once, Normalize(once, locale), "locale %q input %q", locale, in)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		locale   string
		expected string
	}{
		{"simple", "Bad Homburg", "DE", "bad-homburg"},
		{"umlaut", "Köln Süd", "DE", "koln-sud"},
		{"repeated separators collapse", "  Foo -- Bar  ", "", "foo-bar"},
		{"punctuation dropped", "St. Albans", "GB", "st-albans"},
		{"uk saint", "Saint Albans", "GB", "st-albans"},
		{"non ascii dropped", "Київ City", "", "city"},
		{"only punctuation", "!!!", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slug := Slug(tt.input, tt.locale)
			assert.Equal(t, tt.expected, slug)
			assert.Equal(t, slug, Slug(slug, tt.locale))
		})
	}
}

func TestCoreName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Stadt Köln", "Köln"},
		{"Gemeinde Litzendorf", "Litzendorf"},
		{"Markt Buttenheim (Landkreis Bamberg)", "Buttenheim"},
		{"Litzendorf Landkreis Bamberg", "Litzendorf"},
		{"Hallstadt, Stadt", "Hallstadt"},
		{"Kreisfreie Stadt Bamberg", "Bamberg"},
		{"City of London", "London"},
		{"Verbandsgemeinde Stadt Kusel", "Kusel"},
		{"Stadt", "Stadt"},
		{"Köln", "Köln"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, CoreName(tt.input))
		})
	}
}

func TestNormalizeCore(t *testing.T) {
	assert.Equal(t, NormalizeCore("Stadt Köln", "DE"), NormalizeCore("Koeln", "DE"))
}

func TestLocaleFor(t *testing.T) {
	assert.Equal(t, "DE", LocaleFor("de", "whatever"))
	assert.Equal(t, "", LocaleFor("", "Ulm"))
	assert.Equal(t, "DE", LocaleFor("", "Verbandsgemeinde an der Weinstraße und Umgebung"))
}

func TestKeyLocale(t *testing.T) {
	assert.Equal(t, "DE", KeyLocale(" de "))
	assert.Equal(t, "", KeyLocale(""))

	// keys of country-less names stay neutral whatever language is detected
	assert.Equal(t, "koeln", Normalize("Koeln", KeyLocale("")))
	assert.Equal(t, "koln", Normalize("Köln", KeyLocale("")))
	assert.Equal(t, "koln", Normalize("Koeln", KeyLocale("DE")))
}
