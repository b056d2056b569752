package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	count := EstimateTokens("authentication bypass on the payments endpoint", "llama3.3-70b")
	assert.Greater(t, count, 0)
	assert.Less(t, count, 20)
}

func TestTrimToTokenBudgetNoop(t *testing.T) {
	content := "short prompt"
	assert.Equal(t, content, TrimToTokenBudget(content, "gpt-4", 100))
	assert.Equal(t, content, TrimToTokenBudget(content, "gpt-4", 0))
}

func TestTrimToTokenBudgetTruncates(t *testing.T) {
	content := strings.Repeat("endpoint security analysis context ", 500)
	trimmed := TrimToTokenBudget(content, "gpt-4", 50)

	assert.Less(t, len(trimmed), len(content))
	assert.LessOrEqual(t, EstimateTokens(trimmed, "gpt-4"), 50)
}
