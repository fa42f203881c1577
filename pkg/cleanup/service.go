// Package cleanup provides data retention for pipeline state records.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/config"
	"github.com/AIObjectives/t3c-pipeline/pkg/state"
)

// Service periodically deletes terminal (completed or failed) pipeline
// states older than the retention window, along with their validation
// counters. The store TTL remains the backstop for abandoned records.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  *state.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, store *state.Store) *Service {
	return &Service{config: cfg, store: store}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_age", s.config.RetentionAge,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single retention pass.
func (s *Service) RunOnce(ctx context.Context) {
	reportIDs, err := s.store.ScanStateKeys(ctx)
	if err != nil {
		slog.Error("Retention: state scan failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.config.RetentionAge).UnixMilli()
	deleted := 0
	for _, reportID := range reportIDs {
		st, err := s.store.Get(ctx, reportID)
		if err != nil {
			// Record expired or vanished between scan and read.
			continue
		}
		if !st.Terminal() || st.UpdatedAt >= cutoff {
			continue
		}
		if err := s.store.Delete(ctx, reportID); err != nil {
			slog.Error("Retention: delete failed", "report_id", reportID, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("Retention: deleted terminal pipeline states", "count", deleted)
	}
}
