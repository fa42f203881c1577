package state

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

// setupStore creates a test store backed by miniredis.
func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, opts...), mr
}

func TestStore_GetNotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetInvalidID(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStore_SaveAndGet(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	st := models.NewPipelineState("report-1", "user-a", time.Now().UnixMilli())
	st.Status = models.PipelineStatusRunning
	st.Step(models.StepClustering).Status = models.StepStatusCompleted
	st.Step(models.StepClustering).TotalTokens = 42

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Get(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "report-1", loaded.ReportID)
	assert.Equal(t, "user-a", loaded.UserID)
	assert.Equal(t, models.PipelineStatusRunning, loaded.Status)
	assert.Equal(t, models.StepStatusCompleted, loaded.Step(models.StepClustering).Status)
	assert.Equal(t, 42, loaded.Step(models.StepClustering).TotalTokens)
	assert.NotZero(t, loaded.UpdatedAt)
}

func TestStore_SaveSetsTTL(t *testing.T) {
	store, mr := setupStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	st := models.NewPipelineState("report-ttl", "u", time.Now().UnixMilli())
	require.NoError(t, store.Save(ctx, st))

	ttl := mr.TTL("pipeline:state:report-ttl")
	assert.Equal(t, time.Hour, ttl)
}

func TestStore_Delete(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	st := models.NewPipelineState("report-del", "u", time.Now().UnixMilli())
	require.NoError(t, store.Save(ctx, st))
	_, err := store.IncrementValidationFailure(ctx, "report-del", models.StepClaims)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "report-del"))

	_, err = store.Get(ctx, "report-del")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("pipeline:validation:report-del"))
}

func TestStore_IncrementValidationFailure(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementValidationFailure(ctx, "report-v", models.StepClaims)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent counters per step.
	got, err := store.IncrementValidationFailure(ctx, "report-v", models.StepSummaries)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestStore_ResetValidationFailure(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.IncrementValidationFailure(ctx, "report-r", models.StepClaims)
	require.NoError(t, err)
	require.NoError(t, store.ResetValidationFailure(ctx, "report-r", models.StepClaims))

	got, err := store.IncrementValidationFailure(ctx, "report-r", models.StepClaims)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestStore_ScanStateKeys(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, models.NewPipelineState(id, "u", time.Now().UnixMilli())))
	}

	ids, err := store.ScanStateKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestStore_CustomPrefix(t *testing.T) {
	store, mr := setupStore(t, WithPrefix("custom"))
	ctx := context.Background()

	st := models.NewPipelineState("report-p", "u", time.Now().UnixMilli())
	require.NoError(t, store.Save(ctx, st))
	assert.True(t, mr.Exists("custom:state:report-p"))
}
