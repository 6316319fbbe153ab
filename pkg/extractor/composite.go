// Package extractor recognizes composite names that reference other records, such as
// "Gemeinden Litzendorf und Buttenheim", and extracts the names they point at.
package extractor

import (
	"regexp"
	"strings"

	"github.com/Ramsey-B/sorrel/pkg/normalizers"
)

type PatternType string

const (
	PatternNone               PatternType = ""
	PatternPluralJurisdiction PatternType = "plural-jurisdiction"
	PatternRegionMember       PatternType = "region-member"
	PatternEmphasis           PatternType = "emphasis"
)

// Composite is the result of DetectComposite.
type Composite struct {
	IsComposite    bool        `json:"is_composite"`
	PatternType    PatternType `json:"pattern_type,omitempty"`
	ExtractedNames []string    `json:"extracted_names"`
}

type pattern struct {
	typ     PatternType
	re      *regexp.Regexp
	extract func(match []string) []string
}

var (
	listSeparator = regexp.MustCompile(`\s*,\s*|\s+(?:und|sowie)\s+`)
	bareQualifier = regexp.MustCompile(`(?i)^(landkreis|kreis|lkr\.?)(\s|$)`)
	trailingPunct = " .;:"
)

// patterns in precedence order; the first match wins
var patterns = []pattern{
	{
		typ: PatternPluralJurisdiction,
		re:  regexp.MustCompile(`(?i)\b(?:gemeinden|städte|staedte|märkte|maerkte)\s+(.+?)\s+(?:und|sowie)\s+(.+?)\s*$`),
		extract: func(m []string) []string {
			return splitList(m[1] + " und " + m[2])
		},
	},
	{
		typ: PatternRegionMember,
		re:  regexp.MustCompile(`(?i)^\s*region\s+[^,]+,\s*(?:gemeinde|stadt|markt)\s+(.+?)\s*$`),
		extract: func(m []string) []string {
			return cleanAll(m[1])
		},
	},
	{
		typ: PatternEmphasis,
		re:  regexp.MustCompile(`(?i)\b(?:insbesondere|speziell|vor allem)\s+(?:(?:der\s+|die\s+)?(?:gemeinde|stadt|markt)\s+)?(.+?)\s*$`),
		extract: func(m []string) []string {
			return cleanAll(m[1])
		},
	},
}

// DetectComposite reports whether name is a composite reference and which names it implies.
// It never touches storage.
func DetectComposite(name string) Composite {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		names := p.extract(m)
		if len(names) == 0 {
			continue
		}
		return Composite{IsComposite: true, PatternType: p.typ, ExtractedNames: names}
	}
	return Composite{ExtractedNames: []string{}}
}

func splitList(s string) []string {
	var names []string
	for _, part := range listSeparator.Split(s, -1) {
		names = append(names, cleanAll(part)...)
	}
	return names
}

func cleanAll(s string) []string {
	name := clean(s)
	if name == "" {
		return nil
	}
	return []string{name}
}

// clean strips district hints and dangling punctuation; a part that is only a district hint
// ("Landkreis Bamberg" in "Gemeinden A, Landkreis Bamberg und B") yields "".
func clean(s string) string {
	s = strings.Trim(s, trailingPunct)
	if bareQualifier.MatchString(s) {
		return ""
	}
	return strings.Trim(normalizers.StripQualifiers(s), trailingPunct)
}
