package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueSpeakersAndCountClaims(t *testing.T) {
	claims := []ClaimWithDuplicates{
		{
			BaseClaim: BaseClaim{Claim: "a", Speaker: "A"},
			Duplicates: []BaseClaim{
				{Claim: "a2", Speaker: "B"},
				{Claim: "a3", Speaker: "A"},
			},
		},
		{BaseClaim: BaseClaim{Claim: "b", Speaker: "B"}},
	}

	// Duplicates count toward both claims and speakers.
	assert.Equal(t, 4, CountClaims(claims))
	assert.Equal(t, 2, UniqueSpeakers(claims))

	assert.Equal(t, 0, CountClaims(nil))
	assert.Equal(t, 0, UniqueSpeakers(nil))
}

func TestPipelineStateHelpers(t *testing.T) {
	st := NewPipelineState("r", "u", 1000)

	assert.Equal(t, PipelineStatusPending, st.Status)
	assert.Len(t, st.Steps, len(StepOrder()))
	for _, step := range StepOrder() {
		assert.Equal(t, StepStatusPending, st.Steps[step].Status)
	}

	// Totals only count completed steps.
	st.Step(StepClustering).Status = StepStatusCompleted
	st.Step(StepClustering).TotalTokens = 100
	st.Step(StepClustering).Cost = 0.5
	st.Step(StepClustering).DurationMs = 20
	st.Step(StepClaims).Status = StepStatusFailed
	st.Step(StepClaims).TotalTokens = 999

	st.RecomputeTotals()
	assert.Equal(t, 100, st.TotalTokens)
	assert.InDelta(t, 0.5, st.TotalCost, 1e-9)
	assert.Equal(t, int64(20), st.TotalDurationMs)

	assert.False(t, st.Terminal())
	st.Status = PipelineStatusFailed
	assert.True(t, st.Terminal())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33}, u)

	assert.True(t, Usage{}.IsZero())
	assert.False(t, u.IsZero())
}
