package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

func setupQueue(t *testing.T) (*Queue, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueue(client), client
}

func testJob(reportID string) *Job {
	cfg := models.LLMConfig{ModelName: "gpt-4o-mini", SystemPrompt: "s", UserPrompt: "u"}
	return &Job{
		ReportID:         reportID,
		UserID:           "u1",
		Comments:         []models.Comment{{ID: "c1", Text: "hello", Speaker: "A"}},
		ClusteringConfig: cfg,
		ClaimsConfig:     cfg,
		DedupConfig:      cfg,
		SummariesConfig:  cfg,
		SortStrategy:     "numPeople",
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, testJob("r1"))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "r1", job.ReportID)
	assert.Equal(t, jobID, job.JobID)
	assert.Len(t, job.Comments, 1)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(ctx, testJob(id))
		require.NoError(t, err)
	}

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.Dequeue(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, job.ReportID)
	}
}

func TestQueue_DequeueEmptyTimesOut(t *testing.T) {
	q, _ := setupQueue(t)

	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestQueue_EnqueueRequiresReportID(t *testing.T) {
	q, _ := setupQueue(t)

	_, err := q.Enqueue(context.Background(), &Job{})
	assert.Error(t, err)
}

func TestJob_PipelineInput(t *testing.T) {
	job := testJob("r1")
	job.EnableCruxes = true
	cruxCfg := models.LLMConfig{ModelName: "gpt-4o", UserPrompt: "${topic}"}
	job.CruxesConfig = &cruxCfg
	job.CruxesTopK = 5

	in := job.PipelineInput("sk-secret")

	assert.Equal(t, "sk-secret", in.APIKey)
	assert.Equal(t, job.Comments, in.Comments)
	assert.True(t, in.EnableCruxes)
	assert.Equal(t, 5, in.CruxesTopK)
	require.NotNil(t, in.CruxesConfig)
	assert.Equal(t, "gpt-4o", in.CruxesConfig.ModelName)
}
