package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm/mock"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

func cruxesConfig() models.LLMConfig {
	return models.LLMConfig{
		ModelName:    "gpt-4o-mini",
		SystemPrompt: "You find cruxes.",
		UserPrompt:   "Find cruxes in: ${topic}",
	}
}

func cruxesTree() models.ClaimsTree {
	return models.BuildClaimsTree([]models.BaseClaim{
		claim("Dogs are loyal", "A", "Pets", "Dogs", "c1"),
		claim("Dogs are a burden", "B", "Pets", "Dogs", "c2"),
	})
}

var cruxesTopics = []models.PartialTopic{
	{TopicName: "Pets", Subtopics: []models.Subtopic{{SubtopicName: "Dogs"}}},
}

func TestCruxesExecute(t *testing.T) {
	provider := mock.New(mock.WithFallback(mock.JSONResponse(`{"cruxes":[
		{"subtopicName":"Dogs","cruxClaim":"Dogs improve daily life","agree":["A"],"disagree":["B"]},
		{"subtopicName":"Dogs","cruxClaim":"Dog ownership is demanding","agree":["B"],"disagree":["A"]}
	]}`)))
	executor := NewCruxesExecutor(provider.Factory())

	result, serr := executor.Execute(context.Background(), CruxesInput{
		Tree:   cruxesTree(),
		Topics: cruxesTopics,
		Config: cruxesConfig(),
		TopK:   2,
	})

	require.Nil(t, serr)
	assert.Equal(t, 1, provider.Calls())
	require.Len(t, result.SubtopicCruxes, 2)

	require.Len(t, result.TopicScores, 1)
	assert.Equal(t, "Pets", result.TopicScores[0].TopicName)
	// A perfect 1-vs-1 split on both cruxes.
	assert.InDelta(t, 1.0, result.TopicScores[0].Score, 1e-9)

	require.Len(t, result.SpeakerCruxMatrix, 1)
	entry := result.SpeakerCruxMatrix[0]
	assert.Equal(t, "A", entry.SpeakerA)
	assert.Equal(t, "B", entry.SpeakerB)
	assert.Equal(t, 2, entry.Shared)
	assert.InDelta(t, 0.0, entry.Agreement, 1e-9)
}

func TestCruxesExecute_TopKCapsOutput(t *testing.T) {
	provider := mock.New(mock.WithFallback(mock.JSONResponse(`{"cruxes":[
		{"subtopicName":"Dogs","cruxClaim":"one","agree":["A"],"disagree":["B"]},
		{"subtopicName":"Dogs","cruxClaim":"two","agree":["A"],"disagree":["B"]},
		{"subtopicName":"Dogs","cruxClaim":"three","agree":["A"],"disagree":["B"]}
	]}`)))
	executor := NewCruxesExecutor(provider.Factory())

	result, serr := executor.Execute(context.Background(), CruxesInput{
		Tree:   cruxesTree(),
		Topics: cruxesTopics,
		Config: cruxesConfig(),
		TopK:   1,
	})

	require.Nil(t, serr)
	assert.Len(t, result.SubtopicCruxes, 1)
	assert.Equal(t, "one", result.SubtopicCruxes[0].CruxClaim)
}

func TestCruxesExecute_InvalidInputs(t *testing.T) {
	executor := NewCruxesExecutor(mock.New().Factory())
	ctx := context.Background()

	_, serr := executor.Execute(ctx, CruxesInput{Topics: cruxesTopics, Config: cruxesConfig()})
	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindInvalidInput, serr.Kind)

	_, serr = executor.Execute(ctx, CruxesInput{Tree: cruxesTree(), Config: cruxesConfig()})
	require.NotNil(t, serr)
	assert.Equal(t, models.ErrKindInvalidInput, serr.Kind)
}

func TestControversyScore(t *testing.T) {
	// Unanimous: no controversy.
	unanimous := []models.SubtopicCrux{{Agree: []string{"A", "B"}, Disagree: nil}}
	assert.InDelta(t, 0.0, controversyScore(unanimous), 1e-9)

	// Even split: full controversy.
	split := []models.SubtopicCrux{{Agree: []string{"A"}, Disagree: []string{"B"}}}
	assert.InDelta(t, 1.0, controversyScore(split), 1e-9)

	// 3-vs-1 split.
	skewed := []models.SubtopicCrux{{Agree: []string{"A", "B", "C"}, Disagree: []string{"D"}}}
	assert.InDelta(t, 0.5, controversyScore(skewed), 1e-9)

	assert.InDelta(t, 0.0, controversyScore(nil), 1e-9)
}

func TestSpeakerMatrix(t *testing.T) {
	cruxes := []models.SubtopicCrux{
		{Agree: []string{"A", "B"}, Disagree: []string{"C"}},
		{Agree: []string{"A"}, Disagree: []string{"B", "C"}},
	}
	entries := speakerMatrix(cruxes)

	byPair := make(map[string]models.SpeakerCruxEntry)
	for _, e := range entries {
		byPair[e.SpeakerA+"/"+e.SpeakerB] = e
	}

	// A and B: same side once out of two shared cruxes.
	ab := byPair["A/B"]
	assert.Equal(t, 2, ab.Shared)
	assert.InDelta(t, 0.5, ab.Agreement, 1e-9)

	// B and C: opposite then same.
	bc := byPair["B/C"]
	assert.Equal(t, 2, bc.Shared)
	assert.InDelta(t, 0.5, bc.Agreement, 1e-9)

	// A and C: never on the same side.
	ac := byPair["A/C"]
	assert.Equal(t, 2, ac.Shared)
	assert.InDelta(t, 0.0, ac.Agreement, 1e-9)
}
