package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectComposite(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		patternType PatternType
		expected    []string
	}{
		{
			name:        "plural jurisdiction",
			input:       "Gemeinden Litzendorf und Buttenheim",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Litzendorf", "Buttenheim"},
		},
		{
			name:        "plural jurisdiction after an article",
			input:       "Die Gemeinden Litzendorf und Buttenheim",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Litzendorf", "Buttenheim"},
		},
		{
			name:        "plural jurisdiction strips district suffixes",
			input:       "Märkte Buttenheim Landkreis Bamberg und Hirschaid (Landkreis Bamberg)",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Buttenheim", "Hirschaid"},
		},
		{
			name:        "plural jurisdiction transliterated",
			input:       "Staedte Forchheim und Erlangen",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Forchheim", "Erlangen"},
		},
		{
			name:        "comma separated list",
			input:       "Gemeinden Litzendorf, Strullendorf und Buttenheim",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Litzendorf", "Strullendorf", "Buttenheim"},
		},
		{
			name:        "bare district part dropped",
			input:       "Gemeinden Litzendorf, Landkreis Bamberg und Buttenheim",
			patternType: PatternPluralJurisdiction,
			expected:    []string{"Litzendorf", "Buttenheim"},
		},
		{
			name:        "region member",
			input:       "Region Bamberg, Gemeinde Litzendorf",
			patternType: PatternRegionMember,
			expected:    []string{"Litzendorf"},
		},
		{
			name:        "emphasis with jurisdiction",
			input:       "Landkreis Bamberg, insbesondere Gemeinde Litzendorf",
			patternType: PatternEmphasis,
			expected:    []string{"Litzendorf"},
		},
		{
			name:        "emphasis without jurisdiction",
			input:       "Oberfranken, vor allem Bamberg.",
			patternType: PatternEmphasis,
			expected:    []string{"Bamberg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DetectComposite(tt.input)
			assert.True(t, c.IsComposite)
			assert.Equal(t, tt.patternType, c.PatternType)
			assert.Equal(t, tt.expected, c.ExtractedNames)
		})
	}
}

func TestDetectComposite_NoMatch(t *testing.T) {
	for _, input := range []string{"Litzendorf", "Stadt Bamberg", "Gemeinde Litzendorf", "Region Bamberg", ""} {
		t.Run(input, func(t *testing.T) {
			c := DetectComposite(input)
			assert.False(t, c.IsComposite)
			assert.Equal(t, PatternNone, c.PatternType)
			assert.Empty(t, c.ExtractedNames)
		})
	}
}
