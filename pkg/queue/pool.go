package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/config"
	"github.com/AIObjectives/t3c-pipeline/pkg/pipeline"
)

// WorkerPool manages a pool of queue workers on one pod.
type WorkerPool struct {
	podID   string
	queue   *Queue
	runner  *pipeline.Runner
	store   statusReader
	apiKey  string
	cfg     *config.QueueConfig
	workers []*Worker
	started bool
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(podID string, queue *Queue, runner *pipeline.Runner, store statusReader, apiKey string, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		podID:   podID,
		queue:   queue,
		runner:  runner,
		store:   store,
		apiKey:  apiKey,
		cfg:     cfg,
		workers: make([]*Worker, 0, cfg.WorkerCount),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.queue, p.runner, p.store, p.apiKey, p.cfg.PollTimeout)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	slog.Info("Worker pool started")
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish (graceful shutdown), for at most GracefulShutdownTimeout
// (no bound when it is zero).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()
	if p.cfg.GracefulShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(p.cfg.GracefulShutdownTimeout):
			slog.Warn("Graceful shutdown timed out with jobs still running", "timeout", p.cfg.GracefulShutdownTimeout)
			return
		}
	} else {
		<-done
	}
	slog.Info("Worker pool stopped gracefully")
}

// Health returns a snapshot of every worker.
func (p *WorkerPool) Health() []WorkerHealth {
	health := make([]WorkerHealth, len(p.workers))
	for i, worker := range p.workers {
		health[i] = worker.Health()
	}
	return health
}
