package catalog

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	prefixTokenScore = 1.0
	typoTokenScore   = 0.8
	// minTypoLen is the shortest token allowed to match with one edit.
	minTypoLen = 4
)

// score rates how well a normalized query matches a normalized name, in
// [0, 1]. It is the better of a token match (each query token against the
// name's tokens, averaged) and whole-string edit similarity.
func score(query string, qTokens []string, name string, nTokens []string) float64 {
	return max(tokenScore(qTokens, nTokens), similarity(query, name))
}

func tokenScore(qTokens, nTokens []string) float64 {
	if len(qTokens) == 0 {
		return 0
	}
	var total float64
	for _, q := range qTokens {
		var bestTok float64
		for _, n := range nTokens {
			switch {
			case strings.HasPrefix(n, q):
				bestTok = prefixTokenScore
			case len(q) >= minTypoLen && levenshtein.ComputeDistance(q, n) <= 1:
				bestTok = max(bestTok, typoTokenScore)
			}
			if bestTok == prefixTokenScore {
				break
			}
		}
		total += bestTok
	}
	return total / float64(len(qTokens))
}

// similarity is 1 - distance/longest, computed on runes.
func similarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
