package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// verifyScript atomically checks lease ownership and, when the token
// still matches, refreshes the lease. Verification on every state write
// is what implicitly renews the lease for long pipelines.
var verifyScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if the caller still owns it, so
// releasing after expiry cannot drop another worker's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquirePipelineLock takes a best-effort exclusive lease over the
// report's pipeline. Returns the opaque lease token, or ok=false when
// another worker holds the lease.
func (s *Store) AcquirePipelineLock(ctx context.Context, reportID string, lease time.Duration) (string, bool, error) {
	if reportID == "" {
		return "", false, ErrInvalidID
	}

	token := uuid.NewString()
	acquired, err := s.client.SetNX(ctx, s.lockKey(reportID), token, lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: setnx: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// VerifyPipelineLock reports whether the lease still belongs to the
// holder of the token and refreshes it when it does.
func (s *Store) VerifyPipelineLock(ctx context.Context, reportID, token string, lease time.Duration) (bool, error) {
	if reportID == "" {
		return false, ErrInvalidID
	}
	if token == "" {
		return false, nil
	}

	res, err := verifyScript.Run(ctx, s.client,
		[]string{s.lockKey(reportID)}, token, lease.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: verify lock: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// ReleasePipelineLock drops the lease. A no-op if the lease already
// expired or was stolen.
func (s *Store) ReleasePipelineLock(ctx context.Context, reportID, token string) error {
	if reportID == "" {
		return ErrInvalidID
	}
	if token == "" {
		return nil
	}

	if err := releaseScript.Run(ctx, s.client,
		[]string{s.lockKey(reportID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("%w: release lock: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// BreakPipelineLock unconditionally deletes the lease, forcing the
// current holder's next verification to fail. Used by explicit
// cancellation, which takes effect at the holder's next state write.
func (s *Store) BreakPipelineLock(ctx context.Context, reportID string) error {
	if reportID == "" {
		return ErrInvalidID
	}
	if err := s.client.Del(ctx, s.lockKey(reportID)).Err(); err != nil {
		return fmt.Errorf("%w: break lock: %v", ErrStoreUnavailable, err)
	}
	return nil
}
