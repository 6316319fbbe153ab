package normalizers

import (
	"regexp"
	"strings"
)

// jurisdiction qualifiers placed in front of the actual name, longest first
var corePrefixes = []string{
	"kreisfreie stadt ",
	"große kreisstadt ",
	"grosse kreisstadt ",
	"verbandsgemeinde ",
	"samtgemeinde ",
	"verwaltungsgemeinschaft ",
	"landeshauptstadt ",
	"hansestadt ",
	"landkreis ",
	"gemeinde ",
	"stadt ",
	"markt ",
	"kreis ",
	"region ",
	"municipality of ",
	"borough of ",
	"county of ",
	"village of ",
	"city of ",
	"town of ",
}

var (
	trailingDistrict = regexp.MustCompile(`(?i)[\s,]+(landkreis|kreis|lkr\.?)\s+\S.*$`)
	trailingParen    = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
	trailingKind     = regexp.MustCompile(`(?i),\s*(stadt|gemeinde|markt|city|town)\s*$`)
)

// StripQualifiers removes trailing district and parenthesised qualifiers:
// "Litzendorf (Landkreis Bamberg)" and "Litzendorf Landkreis Bamberg" both become "Litzendorf".
func StripQualifiers(name string) string {
	s := strings.TrimSpace(name)
	for {
		next := trailingParen.ReplaceAllString(s, "")
		next = trailingDistrict.ReplaceAllString(next, "")
		next = trailingKind.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s || next == "" {
			return s
		}
		s = next
	}
}

// CoreName strips jurisdiction qualifiers such as "Stadt", "Gemeinde" or "City of" and trailing
// district hints, returning the bare place name. A name that consists only of a qualifier is
// returned unchanged.
func CoreName(name string) string {
	s := StripQualifiers(name)
	for {
		stripped := false
		for _, prefix := range corePrefixes {
			if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// NormalizeCore is Normalize applied to the core name.
func NormalizeCore(name, locale string) string {
	return Normalize(CoreName(name), locale)
}
