package types

import "fmt"

// DecisionAction is the intent classification outcome for free-form input.
type DecisionAction string

const (
	// ActionStore means the input is new information to remember.
	ActionStore DecisionAction = "store"

	// ActionRetrieve means the input asks for existing information.
	ActionRetrieve DecisionAction = "retrieve"

	// ActionClarify means the intent could not be determined with enough
	// confidence and the caller should be asked what to do.
	ActionClarify DecisionAction = "clarify"
)

// Valid reports whether the action is one of the known variants.
func (a DecisionAction) Valid() bool {
	switch a {
	case ActionStore, ActionRetrieve, ActionClarify:
		return true
	}
	return false
}

// Decision is the validated intent classification for a piece of input text.
// It is a tagged variant: Action selects the behavior, and only the fields
// meaningful for that variant are consulted downstream.
type Decision struct {
	Action     DecisionAction `json:"action"`
	Confidence float64        `json:"confidence"`
	Language   string         `json:"language"`
	Reason     string         `json:"reason"`

	// NormalizedText is the trimmed input the decision applies to.
	NormalizedText string `json:"normalized_text"`
}

// Validate checks the boundary invariants for a decision produced from an
// external classifier. It rejects unknown actions and out-of-range
// confidence values.
func (d *Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("invalid action %q", d.Action)
	}
	if d.Confidence < 0.0 || d.Confidence > 1.0 {
		return fmt.Errorf("confidence %v out of range [0,1]", d.Confidence)
	}
	return nil
}

// ClarifyDecision builds the safe fallback decision used when classifier
// output is malformed or below the confidence floor.
func ClarifyDecision(text, reason string) Decision {
	return Decision{
		Action:         ActionClarify,
		Confidence:     0.0,
		Language:       "en",
		Reason:         reason,
		NormalizedText: text,
	}
}
