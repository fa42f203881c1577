package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/stages"
)

// minStepDuration is the measurement floor so extremely fast (mocked)
// stages still register a duration.
const minStepDuration = time.Millisecond

// runState bundles everything a single run mutates.
type runState struct {
	state     *models.PipelineState
	cfg       RunConfig
	lockToken string
	log       *slog.Logger
	// enabledSteps is 4 without cruxes, 5 with.
	enabledSteps int
}

// persist re-verifies the lock lease and writes the state record. Every
// state write goes through here: a lost lease means another worker took
// over and our writes would corrupt state.
func (r *Runner) persist(ctx context.Context, rs *runState) *Error {
	ok, err := r.store.VerifyPipelineLock(ctx, rs.state.ReportID, rs.lockToken, r.opts.LockLease)
	if err != nil {
		return newError(models.ErrKindStateUnavailable, "", "lock verification failed: %v", err)
	}
	if !ok {
		return newError(models.ErrKindLockLost, "", "pipeline lock lease expired or was stolen")
	}
	if err := r.store.Save(ctx, rs.state); err != nil {
		return newError(models.ErrKindStateUnavailable, "", "state save failed: %v", err)
	}
	return nil
}

// notifyStep invokes the step-update callback inside a panic guard.
// Callbacks must never break the pipeline.
func (rs *runState) notifyStep(step models.Step, status models.StepStatus) {
	if rs.cfg.OnStepUpdate == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			rs.log.Warn("Step update callback panicked", "step", step, "panic", rec)
		}
	}()
	rs.cfg.OnStepUpdate(step, status)
}

// notifyProgress invokes the progress callback inside a panic guard.
func (rs *runState) notifyProgress(step models.Step) {
	if rs.cfg.OnProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			rs.log.Warn("Progress callback panicked", "step", step, "panic", rec)
		}
	}()
	rs.cfg.OnProgress(rs.progress(step))
}

// progress computes the progress payload after a step completes.
func (rs *runState) progress(step models.Step) Progress {
	completed := 0
	for _, s := range models.StepOrder() {
		if st, ok := rs.state.Steps[s]; ok && st.Status == models.StepStatusCompleted {
			completed++
		}
	}
	return Progress{
		CurrentStep:     step,
		TotalSteps:      rs.enabledSteps,
		CompletedSteps:  completed,
		PercentComplete: int(math.Round(float64(completed) / float64(rs.enabledSteps) * 100)),
	}
}

// safeExecute invokes a stage executor, converting a panic into an
// internal stage error so nothing crosses the contract boundary.
func safeExecute(step models.Step, exec func() (stages.Result, *stages.Error)) (result stages.Result, serr *stages.Error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			serr = &stages.Error{
				Kind:    models.ErrKindInternal,
				Step:    step,
				Message: "stage executor panicked",
			}
		}
	}()
	return exec()
}

// runStep is the generic harness around one stage execution: it marks
// the step started, invokes the executor, times it, validates the
// analytics shape, caches and persists the result, and drives the
// lifecycle callbacks. The returned result is already cached in
// CompletedResults on success.
func (r *Runner) runStep(ctx context.Context, rs *runState, step models.Step, exec func(ctx context.Context) (stages.Result, *stages.Error)) (stages.Result, error) {
	log := rs.log.With("step", step)

	// Mark in_progress and persist before touching the executor so a
	// crash mid-stage is visible to whoever resumes.
	stepState := rs.state.Step(step)
	stepState.Status = models.StepStatusInProgress
	stepState.StartedAt = time.Now().UnixMilli()
	stepState.Error = ""
	rs.state.CurrentStep = step
	if perr := r.persist(ctx, rs); perr != nil {
		return nil, perr
	}
	rs.notifyStep(step, models.StepStatusInProgress)
	log.Info("Step started")

	started := time.Now()
	result, serr := safeExecute(step, func() (stages.Result, *stages.Error) {
		return exec(ctx)
	})
	duration := time.Since(started)
	if duration < minStepDuration {
		duration = minStepDuration
	}

	if serr != nil {
		log.Error("Step failed", "kind", serr.Kind, "error", serr.Message)

		stepState.Status = models.StepStatusFailed
		stepState.DurationMs = duration.Milliseconds()
		stepState.Error = serr.Message
		rs.state.CurrentStep = ""
		rs.state.Error = &models.ErrorRecord{
			Message: serr.Message,
			Name:    serr.Kind,
			Step:    step,
		}
		rs.state.Status = models.PipelineStatusFailed
		if perr := r.persist(ctx, rs); perr != nil {
			// Lock lost or store down: do not touch state any further.
			return nil, perr
		}
		rs.notifyStep(step, models.StepStatusFailed)
		return nil, &StepError{Step: step, Err: serr, State: rs.state}
	}

	usage, cost := result.Analytics()
	if usage.IsZero() && cost == 0 {
		// Missing analytics is a warning, not a failure: the step
		// proceeds with zeros rather than failing the pipeline.
		log.Warn("Step result carries no analytics, recording zeros")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &StepError{
			Step:  step,
			Err:   newError(models.ErrKindInternal, step, "failed to marshal step result: %v", err),
			State: rs.state,
		}
	}

	if rs.state.CompletedResults == nil {
		rs.state.CompletedResults = make(map[models.Step]json.RawMessage)
	}
	rs.state.CompletedResults[step] = raw
	stepState.Status = models.StepStatusCompleted
	stepState.CompletedAt = time.Now().UnixMilli()
	stepState.DurationMs = duration.Milliseconds()
	stepState.InputTokens = usage.InputTokens
	stepState.OutputTokens = usage.OutputTokens
	stepState.TotalTokens = usage.TotalTokens
	stepState.Cost = cost
	rs.state.CurrentStep = ""
	if rs.state.ValidationFailures == nil {
		rs.state.ValidationFailures = make(map[models.Step]int)
	}
	rs.state.ValidationFailures[step] = 0
	rs.state.RecomputeTotals()

	if perr := r.persist(ctx, rs); perr != nil {
		return nil, perr
	}
	if err := r.store.ResetValidationFailure(ctx, rs.state.ReportID, step); err != nil {
		log.Warn("Failed to reset validation-failure counter", "error", err)
	}

	rs.notifyStep(step, models.StepStatusCompleted)
	rs.notifyProgress(step)
	log.Info("Step completed",
		"duration_ms", stepState.DurationMs,
		"total_tokens", stepState.TotalTokens,
		"cost", stepState.Cost)
	return result, nil
}

// markSkipped records a skipped step (cruxes disabled) and persists.
func (r *Runner) markSkipped(ctx context.Context, rs *runState, step models.Step) error {
	stepState := rs.state.Step(step)
	if stepState.Status == models.StepStatusSkipped {
		return nil
	}
	stepState.Status = models.StepStatusSkipped
	if perr := r.persist(ctx, rs); perr != nil {
		return perr
	}
	rs.notifyStep(step, models.StepStatusSkipped)
	rs.log.Info("Step skipped", "step", step)
	return nil
}

// decodeCached unmarshals a cached step result into its typed shape.
func decodeCached[T any](rs *runState, step models.Step) (*T, bool, error) {
	raw, ok := rs.state.CompletedResults[step]
	if !ok {
		return nil, false, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}
