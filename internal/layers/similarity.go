// file: internal/layers/similarity.go
// version: 1.0.0
// guid: 2b3c4d5e-6f7a-8b9c-0d1e-2f3a4b5c6d7e

package layers

import (
	"strings"
)

// stopWords are dropped before similarity comparison; they carry no
// identifying signal in a title or author string.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"une": true, "les": true, "der": true, "die": true, "das": true,
	"unabridged": true, "abridged": true, "audiobook": true, "novel": true,
}

// TokenSimilarity computes Jaccard similarity over 3+-character tokens,
// stop words removed. 1.0 means identical token sets.
func TokenSimilarity(a, b string) float64 {
	setA := similarityTokens(a)
	setB := similarityTokens(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for tok := range setA {
		if setB[tok] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func similarityTokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}'\"-_")
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}
