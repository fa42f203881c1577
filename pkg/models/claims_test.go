package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildClaimsTree(t *testing.T) {
	claims := []BaseClaim{
		{Claim: "a", Speaker: "A", TopicName: "Pets", SubtopicName: "Dogs", CommentID: "c1"},
		{Claim: "b", Speaker: "B", TopicName: "Pets", SubtopicName: "Dogs", CommentID: "c2"},
		{Claim: "c", Speaker: "A", TopicName: "Pets", SubtopicName: "Cats", CommentID: "c1"},
		{Claim: "d", Speaker: "C", TopicName: "Transit", SubtopicName: "Buses", CommentID: "c3"},
	}

	tree := BuildClaimsTree(claims)

	require.Len(t, tree, 2)
	assert.Equal(t, 3, tree["Pets"].Total)
	assert.Equal(t, 1, tree["Transit"].Total)
	assert.Equal(t, 2, tree["Pets"].Subtopics["Dogs"].Total)
	assert.Equal(t, 1, tree["Pets"].Subtopics["Cats"].Total)
	assert.Equal(t, 4, tree.TotalClaims())

	// Subtree totals equal the sum of claim counts.
	for _, topic := range tree {
		sum := 0
		for _, sub := range topic.Subtopics {
			assert.Equal(t, len(sub.Claims), sub.Total)
			sum += sub.Total
		}
		assert.Equal(t, sum, topic.Total)
	}
}

func TestHasSubtopic(t *testing.T) {
	taxonomy := []PartialTopic{
		{TopicName: "Pets", Subtopics: []Subtopic{{SubtopicName: "Dogs"}}},
	}

	assert.True(t, HasSubtopic(taxonomy, "Pets", "Dogs"))
	assert.False(t, HasSubtopic(taxonomy, "Pets", "Cats"))
	assert.False(t, HasSubtopic(taxonomy, "Transit", "Dogs"))
}
