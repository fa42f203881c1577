package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostFor(t *testing.T) {
	usage := Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000}

	assert.InDelta(t, 0.15+0.60, CostFor("gpt-4o-mini", usage), 1e-9)
	assert.InDelta(t, 2.50+10.00, CostFor("gpt-4o", usage), 1e-9)
}

func TestCostFor_DatedModelFallsBackToPrefix(t *testing.T) {
	usage := Usage{PromptTokens: 2_000_000, CompletionTokens: 0}

	// Dated Anthropic names resolve to their family entry.
	assert.InDelta(t, 2*0.80, CostFor("claude-3-5-haiku-20241022", usage), 1e-9)
	// Dated Sonnet names resolve to the claude-3-5-sonnet entry.
	assert.InDelta(t, 2*3.00, CostFor("claude-3-5-sonnet-20241022", usage), 1e-9)
}

func TestCostFor_UnknownModelIsFree(t *testing.T) {
	usage := Usage{PromptTokens: 500, CompletionTokens: 500}
	assert.Zero(t, CostFor("local-llama", usage))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrCodeRateLimited, classifyStatus(429))
	assert.Equal(t, ErrCodeUnavailable, classifyStatus(500))
	assert.Equal(t, ErrCodeUnavailable, classifyStatus(503))
	assert.Equal(t, ErrCodeUnavailable, classifyStatus(0))
	assert.Equal(t, ErrCodeInvalidRequest, classifyStatus(400))
	assert.Equal(t, ErrCodeContentPolicy, classifyStatus(403))
}

func TestForModel_Routing(t *testing.T) {
	_, isAnthropic := ForModel("claude-3-5-haiku-20241022", "key").(*AnthropicProvider)
	assert.True(t, isAnthropic)

	_, isOpenAI := ForModel("gpt-4o-mini", "key").(*OpenAIProvider)
	assert.True(t, isOpenAI)

	_, isOpenAI = ForModel("o1-mini", "key").(*OpenAIProvider)
	assert.True(t, isOpenAI)
}
