package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/pipeline"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentReport string       `json:"current_report,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// Worker is a single queue worker that polls for and runs report jobs.
type Worker struct {
	id          string
	queue       *Queue
	runner      *pipeline.Runner
	store       statusReader
	apiKey      string
	pollTimeout time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentReport string
	jobsProcessed int
	lastActivity  time.Time
}

// statusReader is the subset of the state store the worker needs to
// decide between a fresh run and a resume.
type statusReader interface {
	Get(ctx context.Context, reportID string) (*models.PipelineState, error)
}

// NewWorker creates a queue worker.
func NewWorker(id string, queue *Queue, runner *pipeline.Runner, store statusReader, apiKey string, pollTimeout time.Duration) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		runner:       runner,
		store:        store,
		apiKey:       apiKey,
		pollTimeout:  pollTimeout,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its
// current job. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentReport: w.currentReport,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one job and drives the pipeline runner for it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.queue.Dequeue(ctx, w.pollTimeout)
	if err != nil {
		return err
	}

	log := slog.With("worker_id", w.id, "job_id", job.JobID, "report_id", job.ReportID)
	log.Info("Job claimed")

	w.setStatus(WorkerStatusWorking, job.ReportID)
	defer w.setStatus(WorkerStatusIdle, "")

	// Redelivered jobs resume from the last durable stage boundary;
	// already-completed reports are a no-op.
	resume := false
	if stored, err := w.store.Get(ctx, job.ReportID); err == nil {
		if stored.Status == models.PipelineStatusCompleted {
			log.Info("Report already completed, dropping redelivered job")
			w.markProcessed()
			return nil
		}
		resume = true
	}

	result := w.runner.RunPipeline(ctx, job.PipelineInput(w.apiKey), pipeline.RunConfig{
		ReportID:        job.ReportID,
		UserID:          job.UserID,
		ResumeFromState: resume,
	})
	w.markProcessed()

	if result.Success {
		log.Info("Job completed",
			"total_tokens", result.State.TotalTokens,
			"total_cost", result.State.TotalCost)
		return nil
	}
	log.Warn("Job failed",
		"kind", result.Error.Kind,
		"step", result.Error.Step,
		"error", result.Error.Message)
	return nil
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, reportID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentReport = reportID
	w.lastActivity = time.Now()
}

func (w *Worker) markProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
}
