package reasoning

import (
	"log"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// modelToEncoding maps model-name prefixes to tiktoken encodings. cl100k_base
// is a safe default for every provider family currently configured.
var modelToEncoding = map[string]string{
	"gpt-4":    "cl100k_base",
	"gpt-3.5":  "cl100k_base",
	"cerebras": "cl100k_base",
	"llama":    "cl100k_base",
	"claude":   "cl100k_base",
	"deepseek": "cl100k_base",
	"mistral":  "cl100k_base",
}

// encodingForModel returns the tiktoken encoding for a model name.
func encodingForModel(model string) (*tiktoken.Tiktoken, error) {
	lowerModel := strings.ToLower(model)

	if encodingName, ok := tiktoken.MODEL_TO_ENCODING[lowerModel]; ok {
		return tiktoken.GetEncoding(encodingName)
	}

	for prefix, encodingName := range modelToEncoding {
		if strings.Contains(lowerModel, prefix) {
			return tiktoken.GetEncoding(encodingName)
		}
	}

	return tiktoken.GetEncoding("cl100k_base")
}

// EstimateTokens counts tokens for the given model, falling back to a
// character-based estimate when no encoding is available.
func EstimateTokens(content string, model string) int {
	enc, err := encodingForModel(model)
	if err == nil {
		return len(enc.Encode(content, nil, nil))
	}

	log.Printf("[WARN] ReasoningService: character-based token estimate for model %s", model)
	return (len(content) / 4) + 5
}

// TrimToTokenBudget truncates content so it fits within budget tokens for the
// given model. Truncation drops the tail; callers must place anything that
// cannot be cut outside the trimmed section.
func TrimToTokenBudget(content string, model string, budget int) string {
	if budget <= 0 {
		return content
	}

	enc, err := encodingForModel(model)
	if err != nil {
		// Character fallback, kept as the exact inverse of the EstimateTokens
		// fallback so trimmed output always satisfies the budget.
		maxChars := (budget - 5) * 4
		if maxChars < 0 {
			maxChars = 0
		}
		if len(content) > maxChars {
			return content[:maxChars]
		}
		return content
	}

	tokens := enc.Encode(content, nil, nil)
	if len(tokens) <= budget {
		return content
	}

	log.Printf("  ✂️  Prompt trimmed from %d to %d tokens", len(tokens), budget)
	return enc.Decode(tokens[:budget])
}
