package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIObjectives/t3c-pipeline/pkg/config"
	"github.com/AIObjectives/t3c-pipeline/pkg/llm/mock"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/pipeline"
	"github.com/AIObjectives/t3c-pipeline/pkg/state"
)

// workerHarness wires a real runner (real stage executors, mock LLM
// provider) behind a queue worker.
type workerHarness struct {
	queue    *Queue
	store    *state.Store
	provider *mock.Provider
	worker   *Worker
}

// newWorkerHarness queues mock provider responses for a one-comment,
// one-topic report: clustering, one claims extraction, one summary.
// The single-claim subtopic needs no dedup call.
func newWorkerHarness(t *testing.T) *workerHarness {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := state.NewStore(client)

	provider := mock.New(
		mock.WithJSON(`{"taxonomy":[{"topicName":"Pets","topicShortDescription":"p","subtopics":[{"subtopicName":"Dogs","subtopicShortDescription":"d"}]}]}`),
		mock.WithJSON(`{"claims":[{"claim":"Dogs are loyal","quote":"q","topicName":"Pets","subtopicName":"Dogs"}]}`),
		mock.WithJSON(`{"summary":"People like dogs."}`),
	)

	runner := pipeline.NewRunner(store, pipeline.NewExecutors(provider.Factory()), pipeline.Options{})
	q := NewQueue(client)
	worker := NewWorker("w-0", q, runner, store, "sk-test", 50*time.Millisecond)

	return &workerHarness{queue: q, store: store, provider: provider, worker: worker}
}

func workerJob() *Job {
	templates := map[models.Step]string{
		models.StepClustering: "Cluster: ${comments}",
		models.StepClaims:     "Taxonomy: ${taxonomy} Comment: ${comment}",
		models.StepSort:       "Dedup: ${claims}",
		models.StepSummaries:  "Summarize: ${topic}",
	}
	cfg := func(step models.Step) models.LLMConfig {
		return models.LLMConfig{ModelName: "gpt-4o-mini", SystemPrompt: "s", UserPrompt: templates[step]}
	}
	return &Job{
		ReportID:         "report-q1",
		UserID:           "u1",
		Comments:         []models.Comment{{ID: "c1", Text: "Dogs are loyal", Speaker: "A"}},
		ClusteringConfig: cfg(models.StepClustering),
		ClaimsConfig:     cfg(models.StepClaims),
		DedupConfig:      cfg(models.StepSort),
		SummariesConfig:  cfg(models.StepSummaries),
		SortStrategy:     "numPeople",
	}
}

func TestWorker_ProcessesJobEndToEnd(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, workerJob())
	require.NoError(t, err)

	h.worker.Start(ctx)
	defer h.worker.Stop()

	require.Eventually(t, func() bool {
		st, err := h.store.Get(ctx, "report-q1")
		return err == nil && st.Status == models.PipelineStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	st, err := h.store.Get(ctx, "report-q1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, st.Steps[models.StepClustering].Status)
	assert.Equal(t, models.StepStatusCompleted, st.Steps[models.StepSummaries].Status)
	assert.Equal(t, models.StepStatusSkipped, st.Steps[models.StepCruxes].Status)
	assert.Equal(t, 3, h.provider.Calls())

	require.Eventually(t, func() bool {
		return h.worker.Health().JobsProcessed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_DropsRedeliveredCompletedJob(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	h.worker.Start(ctx)
	defer h.worker.Stop()

	_, err := h.queue.Enqueue(ctx, workerJob())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := h.store.Get(ctx, "report-q1")
		return err == nil && st.Status == models.PipelineStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	callsAfterFirst := h.provider.Calls()

	// Redeliver the same report: the worker must drop it without
	// invoking any stage.
	_, err = h.queue.Enqueue(ctx, workerJob())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.worker.Health().JobsProcessed == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, callsAfterFirst, h.provider.Calls())
}

func TestWorkerPool_StartStop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := state.NewStore(client)
	runner := pipeline.NewRunner(store, pipeline.NewExecutors(mock.New().Factory()), pipeline.Options{})

	cfg := config.DefaultQueueConfig()
	cfg.WorkerCount = 2
	cfg.PollTimeout = 50 * time.Millisecond

	pool := NewWorkerPool("pod-1", NewQueue(client), runner, store, "sk-test", cfg)
	pool.Start(context.Background())

	health := pool.Health()
	require.Len(t, health, 2)
	assert.Equal(t, "pod-1-worker-0", health[0].ID)
	assert.Equal(t, WorkerStatusIdle, health[0].Status)

	// Duplicate Start is a no-op.
	pool.Start(context.Background())
	assert.Len(t, pool.Health(), 2)

	pool.Stop()
}
