package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/engramdev/engram/pkg/types"
)

// Default ambiguity settings. A query is ambiguous when at least
// MinCandidates results exist and the top two scores are within Gap of each
// other, regardless of the absolute top score.
const (
	DefaultAmbiguityGap  = 0.05
	DefaultMinCandidates = 2
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "my": true,
	"your": true, "his": true, "her": true, "its": true, "our": true,
	"their": true, "this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "him": true, "them": true, "not": true,
	"no": true, "so": true, "if": true, "then": true, "than": true,
	"too": true, "very": true, "can": true, "just": true, "about": true,
}

var interrogatives = map[string]bool{
	"what": true, "which": true, "who": true, "whom": true, "whose": true,
	"when": true, "where": true, "why": true, "how": true,
}

// isAmbiguous reports whether ranked results are too close to call. Requires
// at least minCandidates results and a top-two score gap no larger than gap.
func isAmbiguous(scored []ScoredRecord, gap float64, minCandidates int) bool {
	if minCandidates < 2 {
		minCandidates = DefaultMinCandidates
	}
	if len(scored) < minCandidates {
		return false
	}
	return scored[0].Score-scored[1].Score <= gap
}

// clarificationQuestion builds a question that names whatever token best
// tells the candidates apart. Preference order: a capitalized token shared
// by at least two candidates (likely a proper noun), then the longest shared
// non-stopword token, then a generic phrasing. The numbered previews let the
// caller answer by position, id, or paraphrase.
func clarificationQuestion(candidates types.CandidateSet) string {
	var subject string
	if token := sharedCapitalizedToken(candidates); token != "" {
		subject = fmt.Sprintf("I found multiple memories mentioning %q. Which one do you mean?", token)
	} else if token := longestSharedToken(candidates); token != "" {
		subject = fmt.Sprintf("I found multiple memories about %q. Which one do you mean?", token)
	} else {
		subject = "I found multiple matching entries. Which one do you mean?"
	}

	var b strings.Builder
	b.WriteString(subject)
	for i, c := range candidates {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, preview(c.Text, 80)))
	}
	return b.String()
}

// sharedCapitalizedToken finds a capitalized token that appears in at least
// two candidate texts. Sentence-initial tokens are skipped so ordinary
// sentence capitalization does not masquerade as a proper noun, and
// interrogatives never qualify.
func sharedCapitalizedToken(candidates types.CandidateSet) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, c := range candidates {
		seen := make(map[string]bool)
		for i, token := range tokenize(c.Text) {
			if i == 0 || len(token) < 2 || seen[token] {
				continue
			}
			first := []rune(token)[0]
			if !unicode.IsUpper(first) || interrogatives[strings.ToLower(token)] {
				continue
			}
			seen[token] = true
			if counts[token] == 0 {
				order = append(order, token)
			}
			counts[token]++
		}
	}
	for _, token := range order {
		if counts[token] >= 2 {
			return token
		}
	}
	return ""
}

// longestSharedToken finds the longest lowercase non-stopword token shared
// by at least two candidate texts. Ties keep the earliest-seen token.
func longestSharedToken(candidates types.CandidateSet) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, c := range candidates {
		seen := make(map[string]bool)
		for _, token := range tokenize(c.Text) {
			lower := strings.ToLower(token)
			if len(lower) < 2 || stopWords[lower] || interrogatives[lower] || seen[lower] {
				continue
			}
			seen[lower] = true
			if counts[lower] == 0 {
				order = append(order, lower)
			}
			counts[lower]++
		}
	}
	best := ""
	for _, token := range order {
		if counts[token] >= 2 && len(token) > len(best) {
			best = token
		}
	}
	return best
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
