package engine

import (
	"strings"
	"testing"

	"github.com/engramdev/engram/pkg/types"
)

func scoredPair(top, second float64) []ScoredRecord {
	return []ScoredRecord{
		{Record: types.MemoryRecord{ID: "a"}, Score: top},
		{Record: types.MemoryRecord{ID: "b"}, Score: second},
	}
}

func TestIsAmbiguous_TriggersOnSmallGap(t *testing.T) {
	if !isAmbiguous(scoredPair(0.71, 0.70), 0.05, 2) {
		t.Error("gap of 0.01 should be ambiguous")
	}
	if !isAmbiguous(scoredPair(0.30, 0.25), 0.05, 2) {
		t.Error("ambiguity is independent of the absolute top score")
	}
}

func TestIsAmbiguous_GapAtThreshold(t *testing.T) {
	if !isAmbiguous(scoredPair(0.80, 0.75), 0.05, 2) {
		t.Error("gap exactly at the threshold should still be ambiguous")
	}
}

func TestIsAmbiguous_LargeGapIsClear(t *testing.T) {
	if isAmbiguous(scoredPair(0.90, 0.60), 0.05, 2) {
		t.Error("gap of 0.30 should not be ambiguous")
	}
}

func TestIsAmbiguous_SingleCandidate(t *testing.T) {
	single := []ScoredRecord{{Record: types.MemoryRecord{ID: "a"}, Score: 0.9}}
	if isAmbiguous(single, 0.05, 2) {
		t.Error("a single candidate can never be ambiguous")
	}
	if isAmbiguous(nil, 0.05, 2) {
		t.Error("no candidates can never be ambiguous")
	}
}

func TestClarificationQuestion_NamesSharedProperNoun(t *testing.T) {
	candidates := types.CandidateSet{
		{MemoryID: "1", Text: "Code for Dalia from work is 1234", SimilarityScore: 0.71},
		{MemoryID: "2", Text: "Code for Aunt Dalia is 2580", SimilarityScore: 0.70},
	}
	question := clarificationQuestion(candidates)
	if !strings.Contains(question, "Dalia") {
		t.Errorf("question should mention the shared name, got: %s", question)
	}
	if !strings.Contains(question, "1.") || !strings.Contains(question, "2.") {
		t.Errorf("question should enumerate candidates, got: %s", question)
	}
}

func TestClarificationQuestion_SentenceInitialCapitalIgnored(t *testing.T) {
	// "Code" opens both texts; only "Dalia" should count as a proper noun.
	candidates := types.CandidateSet{
		{MemoryID: "1", Text: "Code for Dalia from work is 1234"},
		{MemoryID: "2", Text: "Code for Aunt Dalia is 2580"},
	}
	if token := sharedCapitalizedToken(candidates); token != "Dalia" {
		t.Errorf("expected Dalia, got %q", token)
	}
}

func TestClarificationQuestion_FallsBackToSharedToken(t *testing.T) {
	candidates := types.CandidateSet{
		{MemoryID: "1", Text: "I wore a blue shirt yesterday"},
		{MemoryID: "2", Text: "I wore a red shirt yesterday"},
	}
	question := clarificationQuestion(candidates)
	if !strings.Contains(question, "yesterday") && !strings.Contains(question, "shirt") {
		t.Errorf("question should mention a shared token, got: %s", question)
	}
}

func TestClarificationQuestion_GenericWhenNothingShared(t *testing.T) {
	candidates := types.CandidateSet{
		{MemoryID: "1", Text: "apples"},
		{MemoryID: "2", Text: "bicycles"},
	}
	question := clarificationQuestion(candidates)
	if !strings.Contains(question, "multiple matching entries") {
		t.Errorf("expected generic phrasing, got: %s", question)
	}
}

func TestClarificationQuestion_TruncatesLongPreviews(t *testing.T) {
	long := strings.Repeat("x", 200)
	candidates := types.CandidateSet{
		{MemoryID: "1", Text: long},
		{MemoryID: "2", Text: long + " tail"},
	}
	question := clarificationQuestion(candidates)
	if !strings.Contains(question, "...") {
		t.Errorf("long candidate text should be truncated, got: %s", question)
	}
}
