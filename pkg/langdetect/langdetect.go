// Package langdetect guesses the language of short names so locale rules can apply to records
// imported without a country.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample lingua gets asked about; shorter names are mostly noise.
const minLetters = 5

// Languages the import paths actually deliver. Restricting the set keeps the models small and the
// guesses on two-word names far steadier than FromAllLanguages.
var Languages = []lingua.Language{
	lingua.German,
	lingua.English,
	lingua.French,
	lingua.Italian,
	lingua.Spanish,
	lingua.Dutch,
	lingua.Polish,
}

type Detector struct {
	detector lingua.LanguageDetector
}

func New(languages ...lingua.Language) *Detector {
	if len(languages) == 0 {
		languages = Languages
	}
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithMinimumRelativeDistance(0.1).
			Build(),
	}
}

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// Default returns the lazily built process-wide detector.
func Default() *Detector {
	defaultOnce.Do(func() {
		defaultDetector = New()
	})
	return defaultDetector
}

// DetectISO6391 returns the lowercase ISO 639-1 code of text, or "" when the sample is too short or
// the detector is not confident.
func (d *Detector) DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}

	language, ok := d.detector.DetectLanguageOf(sample)
	if !ok {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// DetectISO6391 runs the default detector.
func DetectISO6391(text string) string {
	return Default().DetectISO6391(text)
}
