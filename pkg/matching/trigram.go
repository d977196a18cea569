package matching

import (
	"strings"
	"unicode"
)

// trigrams returns the character 3-gram set of s the way pg_trgm builds
// it: the lowercased input is split into alphanumeric words, each word is
// padded with two leading and one trailing blank, and the 3-grams of every
// padded word are unioned. Keeping the Go side identical to the database
// extension means the in-memory scorer and the SQL pre-filter agree on
// which addresses clear a threshold.
func trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) == 0 {
			return
		}
		padded := make([]rune, 0, len(word)+3)
		padded = append(padded, ' ', ' ')
		padded = append(padded, word...)
		padded = append(padded, ' ')
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
		word = word[:0]
	}
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word = append(word, r)
			continue
		}
		flush()
	}
	flush()
	return set
}

// TrigramSimilarity mirrors pg_trgm's similarity(): shared trigrams over
// the union of both sets. Returns a value in [0, 1].
func TrigramSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ta := trigrams(a)
	tb := trigrams(b)

	intersection := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
