package score

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// containmentFloor is the minimum score when one normalized name
// contains the other. Bank descriptors routinely wrap the merchant
// name in store numbers and city codes, so containment is strong
// evidence.
const containmentFloor = 0.85

// stripMarks removes diacritics so "Café" and "Cafe" normalize alike.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Vendor scores two merchant names in [0,1]. Both names are
// normalized, then a token-set ratio is combined with a
// substring-containment floor. A missing name on either side scores 0
// rather than erroring; vendor absence is common and must not break
// the pipeline.
func Vendor(name1, name2 string) float64 {
	n1 := NormalizeVendor(name1)
	n2 := NormalizeVendor(name2)
	if n1 == "" || n2 == "" {
		return 0
	}
	if n1 == n2 {
		return 1.0
	}

	s := tokenSetRatio(n1, n2)

	if strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		if s < containmentFloor {
			s = containmentFloor
		}
	}
	return s
}

// NormalizeVendor lowercases, strips diacritics and punctuation, and
// collapses whitespace. The normalized form is also used as the
// recurring-transaction signature by the pattern strategy.
func NormalizeVendor(name string) string {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenSetRatio is the overlap coefficient of the unique token sets:
// shared tokens over the smaller set. A name whose tokens are fully
// contained in the other scores 1.0, so descriptor noise like store
// numbers does not drag the score down.
func tokenSetRatio(n1, n2 string) float64 {
	set1 := tokenSet(n1)
	set2 := tokenSet(n2)
	if len(set1) == 0 || len(set2) == 0 {
		return 0
	}

	common := 0
	for tok := range set1 {
		if set2[tok] {
			common++
		}
	}
	if common == 0 {
		return 0
	}

	smaller := len(set1)
	if len(set2) < smaller {
		smaller = len(set2)
	}
	return float64(common) / float64(smaller)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
