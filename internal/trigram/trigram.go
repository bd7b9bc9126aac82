// Package trigram implements the pg_trgm similarity measure so that the SQLite
// cache dialect ranks search results the same way PostgreSQL does.
package trigram

import (
	"strings"
	"unicode"
)

// DefaultThreshold mirrors pg_trgm.similarity_threshold, the cut-off used by
// the % operator.
const DefaultThreshold = 0.3

// Set returns the unique trigrams of s. Words are maximal runs of letters and
// digits, lowercased and padded with two spaces in front and one behind.
func Set(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Similarity returns |A∩B| / |A∪B| over the trigram sets of a and b.
func Similarity(a, b string) float64 {
	ta, tb := Set(a), Set(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(tb) < len(ta) {
		ta, tb = tb, ta
	}
	common := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			common++
		}
	}
	return float64(common) / float64(len(ta)+len(tb)-common)
}
