package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lease = 60 * time.Second

func TestLock_AcquireAndVerify(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	token, acquired, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NotEmpty(t, token)

	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_SecondAcquireFails(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, acquired, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestLock_VerifyRefreshesLease(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)

	// Half the lease passes, then a successful verify renews it.
	mr.FastForward(30 * time.Second)
	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	require.True(t, ok)

	// Another 45s would have expired the original lease, but not the
	// renewed one.
	mr.FastForward(45 * time.Second)
	ok, err = store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_VerifyAfterExpiry(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)

	mr.FastForward(2 * lease)

	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_VerifyStolenLease(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)

	// Lease expires and another worker takes over.
	mr.FastForward(2 * lease)
	other, acquired, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	require.True(t, acquired)

	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.VerifyPipelineLock(ctx, "report-1", other, lease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseAllowsReacquire(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	require.NoError(t, store.ReleasePipelineLock(ctx, "report-1", token))

	_, acquired, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLock_ReleaseWithWrongTokenIsNoOp(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)

	require.NoError(t, store.ReleasePipelineLock(ctx, "report-1", "not-the-token"))

	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_BreakForcesVerifyFailure(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	token, _, err := store.AcquirePipelineLock(ctx, "report-1", lease)
	require.NoError(t, err)

	require.NoError(t, store.BreakPipelineLock(ctx, "report-1"))

	ok, err := store.VerifyPipelineLock(ctx, "report-1", token, lease)
	require.NoError(t, err)
	assert.False(t, ok)
}
