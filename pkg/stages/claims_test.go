package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/llm/mock"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

var claimsTaxonomy = []models.PartialTopic{
	{
		TopicName: "Pets",
		Subtopics: []models.Subtopic{
			{SubtopicName: "Dogs"},
			{SubtopicName: "Cats"},
		},
	},
}

var claimsComments = []models.Comment{
	{ID: "c1", Text: "Dogs are loyal", Speaker: "A"},
	{ID: "c2", Text: "Cats are independent", Speaker: "B"},
	{ID: "c3", Text: "Dogs need walks", Speaker: "C"},
}

func claimsConfig() models.LLMConfig {
	return models.LLMConfig{
		ModelName:    "gpt-4o-mini",
		SystemPrompt: "You extract claims.",
		UserPrompt:   "Taxonomy: ${taxonomy}\nComment: ${comment}",
	}
}

func TestClaimsExecute(t *testing.T) {
	provider := mock.New(mock.WithFallback(mock.JSONResponse(
		`{"claims":[{"claim":"A pet claim","quote":"q","topicName":"Pets","subtopicName":"Dogs"}]}`)))
	executor := NewClaimsExecutor(provider.Factory())

	result, serr := executor.Execute(context.Background(), ClaimsInput{
		Comments: claimsComments,
		Taxonomy: claimsTaxonomy,
		Config:   claimsConfig(),
	})

	require.Nil(t, serr)
	// One extraction call per comment.
	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, 3, result.Data.TotalClaims())

	dogs := result.Data["Pets"].Subtopics["Dogs"]
	require.Equal(t, 3, dogs.Total)

	// Speaker and comment ID default to the source comment.
	gotIDs := make(map[string]string)
	for _, c := range dogs.Claims {
		gotIDs[c.CommentID] = c.Speaker
	}
	assert.Equal(t, map[string]string{"c1": "A", "c2": "B", "c3": "C"}, gotIDs)

	// Usage accumulates across all three calls.
	assert.Equal(t, models.Usage{InputTokens: 30, OutputTokens: 15, TotalTokens: 45}, result.Usage)
}

func TestClaimsExecute_DropsUnknownReferences(t *testing.T) {
	provider := mock.New(mock.WithFallback(mock.JSONResponse(`{"claims":[
		{"claim":"valid","quote":"q","topicName":"Pets","subtopicName":"Dogs"},
		{"claim":"unknown pair","quote":"q","topicName":"Pets","subtopicName":"Fish"},
		{"claim":"unknown topic","quote":"q","topicName":"Weather","subtopicName":"Dogs"},
		{"claim":"unknown comment","quote":"q","topicName":"Pets","subtopicName":"Cats","commentId":"zz9"}
	]}`)))
	executor := NewClaimsExecutor(provider.Factory())

	result, serr := executor.Execute(context.Background(), ClaimsInput{
		Comments: claimsComments[:1],
		Taxonomy: claimsTaxonomy,
		Config:   claimsConfig(),
	})

	require.Nil(t, serr)
	// Only the fully-valid claim survives; the rest are dropped with
	// warnings, never errors.
	assert.Equal(t, 1, result.Data.TotalClaims())
	assert.Equal(t, "valid", result.Data["Pets"].Subtopics["Dogs"].Claims[0].Claim)

	// Referential integrity: every emitted claim references a known
	// pair and comment.
	for _, topic := range result.Data {
		for subName, sub := range topic.Subtopics {
			for _, claim := range sub.Claims {
				assert.True(t, models.HasSubtopic(claimsTaxonomy, claim.TopicName, subName))
				assert.Equal(t, "c1", claim.CommentID)
			}
		}
	}
}

func TestClaimsExecute_InvalidInputs(t *testing.T) {
	executor := NewClaimsExecutor(mock.New().Factory())
	ctx := context.Background()

	_, serr := executor.Execute(ctx, ClaimsInput{Taxonomy: claimsTaxonomy, Config: claimsConfig()})
	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindInvalidInput, serr.Kind)

	_, serr = executor.Execute(ctx, ClaimsInput{Comments: claimsComments, Config: claimsConfig()})
	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindInvalidInput, serr.Kind)

	bad := claimsConfig()
	bad.UserPrompt = "${taxonomy} ${comment} ${speakerBio}"
	_, serr = executor.Execute(ctx, ClaimsInput{Comments: claimsComments, Taxonomy: claimsTaxonomy, Config: bad})
	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindInvalidInput, serr.Kind)
}

func TestClaimsExecute_ProviderFailureFailsStage(t *testing.T) {
	provider := mock.New(mock.WithError(&llm.Error{
		Code:    llm.ErrCodeUnavailable,
		Message: "502 bad gateway",
	}))
	executor := NewClaimsExecutor(provider.Factory())

	_, serr := executor.Execute(context.Background(), ClaimsInput{
		Comments: claimsComments,
		Taxonomy: claimsTaxonomy,
		Config:   claimsConfig(),
	})

	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindUpstreamUnavailable, serr.Kind)
	assert.Equal(t, models.StepClaims, serr.Step)
}
