// Package state persists pipeline run records in Redis: one JSON
// document per report plus an atomic validation-failure counter hash and
// a self-expiring pipeline lock. TTLs on every key prevent unbounded
// retention of abandoned runs.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// Defaults for store construction.
const (
	defaultTTL    = 7 * 24 * time.Hour
	defaultPrefix = "pipeline"
)

var (
	// ErrNotFound indicates no state record exists for the report.
	ErrNotFound = errors.New("pipeline state not found")

	// ErrInvalidID indicates an empty report ID.
	ErrInvalidID = errors.New("invalid report ID")

	// ErrStoreUnavailable indicates Redis I/O failed. The runner cannot
	// continue without the store.
	ErrStoreUnavailable = errors.New("state store unavailable")
)

// Store provides the Redis-backed pipeline state operations. All
// operations are keyed by report ID.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the time-to-live for state records and their counters.
// Refreshed on every save. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "pipeline".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore creates a Redis-backed pipeline state store.
func NewStore(client *redis.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// NewClient creates a Redis client from a URL and verifies connectivity
// with a short ping.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Get retrieves the state record for a report, or ErrNotFound.
func (s *Store) Get(ctx context.Context, reportID string) (*models.PipelineState, error) {
	if reportID == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.stateKey(reportID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}

	var state models.PipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline state: %w", err)
	}
	return &state, nil
}

// Save writes the whole state record as one atomic JSON replace and
// refreshes the TTL.
func (s *Store) Save(ctx context.Context, state *models.PipelineState) error {
	if state == nil {
		return errors.New("nil pipeline state")
	}
	if state.ReportID == "" {
		return ErrInvalidID
	}

	state.UpdatedAt = time.Now().UnixMilli()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}

	if err := s.client.Set(ctx, s.stateKey(state.ReportID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the state record and its validation counters.
func (s *Store) Delete(ctx context.Context, reportID string) error {
	if reportID == "" {
		return ErrInvalidID
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.stateKey(reportID))
	pipe.Del(ctx, s.validationKey(reportID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: del: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IncrementValidationFailure atomically bumps the per-step corruption
// counter in a single round trip and returns the new count.
func (s *Store) IncrementValidationFailure(ctx context.Context, reportID string, step models.Step) (int, error) {
	if reportID == "" {
		return 0, ErrInvalidID
	}

	pipe := s.client.Pipeline()
	incr := pipe.HIncrBy(ctx, s.validationKey(reportID), string(step), 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.validationKey(reportID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: hincrby: %v", ErrStoreUnavailable, err)
	}
	return int(incr.Val()), nil
}

// ResetValidationFailure zeroes the per-step corruption counter. Called
// on every completed write of the step.
func (s *Store) ResetValidationFailure(ctx context.Context, reportID string, step models.Step) error {
	if reportID == "" {
		return ErrInvalidID
	}
	if err := s.client.HDel(ctx, s.validationKey(reportID), string(step)).Err(); err != nil {
		return fmt.Errorf("%w: hdel: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ScanStateKeys streams the report IDs of all stored state records.
// Used by the retention service.
func (s *Store) ScanStateKeys(ctx context.Context) ([]string, error) {
	var ids []string
	pattern := s.stateKey("*")
	prefix := s.stateKey("")

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if len(key) > len(prefix) {
			ids = append(ids, key[len(prefix):])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (s *Store) stateKey(reportID string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, reportID)
}

func (s *Store) lockKey(reportID string) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, reportID)
}

func (s *Store) validationKey(reportID string) string {
	return fmt.Sprintf("%s:validation:%s", s.prefix, reportID)
}
