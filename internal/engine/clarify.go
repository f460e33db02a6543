package engine

import (
	"strings"

	"github.com/engramdev/engram/pkg/types"
)

// wordOverlap counts distinct lowercase tokens the two texts share.
func wordOverlap(a, b string) int {
	tokensA := make(map[string]bool)
	for _, token := range tokenize(a) {
		tokensA[strings.ToLower(token)] = true
	}
	count := 0
	seen := make(map[string]bool)
	for _, token := range tokenize(b) {
		lower := strings.ToLower(token)
		if tokensA[lower] && !seen[lower] {
			seen[lower] = true
			count++
		}
	}
	return count
}

// bestByOverlap picks the candidate whose text shares the most tokens with
// the phrase. Ties keep the earlier (higher-ranked) candidate. Returns -1
// when no candidate overlaps at all.
func bestByOverlap(candidates types.CandidateSet, phrase string) int {
	bestIdx := -1
	bestOverlap := 0
	for i, c := range candidates {
		if overlap := wordOverlap(phrase, c.Text); overlap > bestOverlap {
			bestOverlap = overlap
			bestIdx = i
		}
	}
	return bestIdx
}
