package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/engramdev/engram/pkg/types"
)

// classifyPrompt is the few-shot prompt for intent classification. The model
// must answer with a single JSON object; extractJSON strips any wrapping the
// model adds anyway.
const classifyPrompt = `You are a classifier that decides if a message is:
- store: save new information (statements, notes, facts, tasks, lists)
- retrieve: get existing information (questions, commands to recall)
- clarify: when not sure

Return only valid JSON: {"action": "store|retrieve|clarify", "confidence": 0.0-1.0, "language": "en|he|mixed", "reason": "brief explanation"}

Examples:

User: "I bought milk from the store today"
{"action": "store", "confidence": 0.95, "language": "en", "reason": "stating a fact to remember"}

User: "קניתי חלב היום"
{"action": "store", "confidence": 0.95, "language": "he", "reason": "stating a fact to remember in Hebrew"}

User: "When did I buy milk?"
{"action": "retrieve", "confidence": 0.90, "language": "en", "reason": "asking about past information"}

User: "מתי קניתי חלב?"
{"action": "retrieve", "confidence": 0.90, "language": "he", "reason": "asking about past information in Hebrew"}

User: "milk"
{"action": "clarify", "confidence": 0.20, "language": "en", "reason": "too vague - need more context"}

User: "Remember: doctor appointment Tuesday 3pm"
{"action": "store", "confidence": 0.98, "language": "en", "reason": "explicit instruction to remember information"}

User: "Find my doctor appointment"
{"action": "retrieve", "confidence": 0.92, "language": "en", "reason": "asking to find stored information"}

Message: `

// IntentClassifier decides whether free-form input should be stored,
// retrieved, or clarified, using a TextGenerator provider.
type IntentClassifier struct {
	generator TextGenerator
}

// NewIntentClassifier creates a classifier backed by the given provider.
func NewIntentClassifier(generator TextGenerator) *IntentClassifier {
	return &IntentClassifier{generator: generator}
}

// Classify sends the text to the provider and parses the decision. Provider
// transport failures propagate as errors; malformed or invalid provider
// output is downgraded to a Clarify decision instead.
func (c *IntentClassifier) Classify(ctx context.Context, text string) (types.Decision, error) {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return types.Decision{}, fmt.Errorf("classify: text cannot be empty")
	}

	raw, err := c.generator.Complete(ctx, classifyPrompt+normalized)
	if err != nil {
		return types.Decision{}, fmt.Errorf("classify: %w", err)
	}

	return ParseDecision(raw, normalized), nil
}

// ParseDecision turns raw classifier output into a validated Decision.
// Any parse or validation failure yields the Clarify fallback.
func ParseDecision(raw, normalizedText string) types.Decision {
	var decision types.Decision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decision); err != nil {
		log.Printf("classifier returned invalid JSON: %v (response: %.120s)", err, raw)
		return types.ClarifyDecision(normalizedText, "classifier returned invalid JSON")
	}

	decision.NormalizedText = normalizedText
	if err := decision.Validate(); err != nil {
		log.Printf("classifier returned invalid decision: %v (response: %.120s)", err, raw)
		return types.ClarifyDecision(normalizedText, "classifier decision failed validation")
	}
	if decision.Language == "" {
		decision.Language = "en"
	}
	return decision
}

// extractJSON extracts the first JSON object from a string that may contain
// extra text. LLMs add markdown fences and explanations despite
// instructions; we locate the outermost brace pair instead of trusting the
// raw output.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch ch {
		case '\\':
			escape = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				braceCount++
			}
		case '}':
			if !inString {
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text[start:]
}
