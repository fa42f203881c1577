package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/stages"
	"github.com/AIObjectives/t3c-pipeline/pkg/state"
)

// Runner drives a report's pipeline: initialize or resume state, walk
// the stage DAG skipping completed stages, race the whole run against
// the wall-clock budget, and finalize status.
type Runner struct {
	store     *state.Store
	executors Executors
	opts      Options
}

// NewRunner creates a pipeline runner.
func NewRunner(store *state.Store, executors Executors, opts Options) *Runner {
	return &Runner{
		store:     store,
		executors: executors,
		opts:      opts.withDefaults(),
	}
}

// RunPipeline executes or resumes the pipeline for one report. It never
// panics and never returns a plain error: every outcome is a Result.
func (r *Runner) RunPipeline(ctx context.Context, input Input, cfg RunConfig) Result {
	if cfg.ReportID == "" {
		return Result{Error: newError(models.ErrKindInvalidInput, "", "missing report ID")}
	}

	log := slog.With("report_id", cfg.ReportID, "user_id", cfg.UserID)

	// Acquire (or adopt) the lease before touching state. Exactly one
	// worker advances a report at a time.
	token, err := r.obtainLock(ctx, cfg)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return Result{Error: perr}
		}
		return Result{Error: newError(models.ErrKindStateUnavailable, "", "lock acquisition failed: %v", err)}
	}
	// Release on every exit path; the release is a no-op if the lease
	// already expired or was stolen.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.ReleasePipelineLock(releaseCtx, cfg.ReportID, token); err != nil {
			log.Warn("Failed to release pipeline lock", "error", err)
		}
	}()

	rs := &runState{
		cfg:          cfg,
		lockToken:    token,
		log:          log,
		enabledSteps: 4,
	}
	if input.EnableCruxes {
		rs.enabledSteps = 5
	}

	// The whole run races this deadline; cancelling the context on
	// return also cancels the timer.
	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	result := r.run(runCtx, rs, input)
	if !result.Success && runCtx.Err() != nil && ctx.Err() == nil {
		return r.finalizeTimeout(rs)
	}
	return result
}

// obtainLock acquires a fresh lease or verifies an adopted one.
func (r *Runner) obtainLock(ctx context.Context, cfg RunConfig) (string, error) {
	if cfg.LockValue != "" {
		ok, err := r.store.VerifyPipelineLock(ctx, cfg.ReportID, cfg.LockValue, r.opts.LockLease)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", newError(models.ErrKindLockLost, "", "supplied lock value is not the current lease")
		}
		return cfg.LockValue, nil
	}

	token, acquired, err := r.store.AcquirePipelineLock(ctx, cfg.ReportID, r.opts.LockLease)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", newError(models.ErrKindLockLost, "", "pipeline lock held by another worker")
	}
	return token, nil
}

// run performs the state initialization, recovery validation, DAG walk
// and finalization under an already-held lock.
func (r *Runner) run(ctx context.Context, rs *runState, input Input) Result {
	if perr := r.initState(ctx, rs); perr != nil {
		return r.failWith(ctx, rs, perr)
	}

	if perr := r.validateRecovered(ctx, rs); perr != nil {
		return r.failWith(ctx, rs, perr)
	}

	outputs, err := r.walk(ctx, rs, input)
	if err != nil {
		return r.resultFromWalkError(ctx, rs, err)
	}

	// Finalization: every non-skipped step completed.
	rs.state.Status = models.PipelineStatusCompleted
	rs.state.CurrentStep = ""
	rs.state.Error = nil
	if perr := r.persist(ctx, rs); perr != nil {
		return r.resultFromWalkError(ctx, rs, perr)
	}

	rs.log.Info("Pipeline completed",
		"total_duration_ms", rs.state.TotalDurationMs,
		"total_tokens", rs.state.TotalTokens,
		"total_cost", rs.state.TotalCost)
	return Result{Success: true, State: rs.state, Outputs: outputs}
}

// initState creates a fresh state record or loads the stored one for a
// resume, enforcing the resume preconditions.
func (r *Runner) initState(ctx context.Context, rs *runState) *Error {
	if !rs.cfg.ResumeFromState {
		rs.state = models.NewPipelineState(rs.cfg.ReportID, rs.cfg.UserID, time.Now().UnixMilli())
		rs.state.Status = models.PipelineStatusRunning
		return r.persist(ctx, rs)
	}

	stored, err := r.store.Get(ctx, rs.cfg.ReportID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return newError(models.ErrKindNoStateToResume, "", "no stored state for report %s", rs.cfg.ReportID)
		}
		return newError(models.ErrKindStateUnavailable, "", "state load failed: %v", err)
	}
	if stored.Status == models.PipelineStatusCompleted {
		rs.state = stored
		return newError(models.ErrKindAlreadyCompleted, "", "pipeline for report %s already completed", rs.cfg.ReportID)
	}

	rs.state = stored
	rs.state.Status = models.PipelineStatusRunning
	rs.state.CurrentStep = ""
	rs.state.Error = nil
	// An in_progress step from a crashed worker re-runs from scratch.
	for _, step := range models.StepOrder() {
		if st := rs.state.Step(step); st.Status == models.StepStatusInProgress || st.Status == models.StepStatusFailed {
			st.Status = models.StepStatusPending
			st.Error = ""
		}
	}
	return r.persist(ctx, rs)
}

// validateRecovered checks every cached result against its structural
// contract. Invalid entries are discarded and their step re-executed,
// unless the atomic corruption counter exceeds the ceiling — then the
// pipeline fails permanently.
func (r *Runner) validateRecovered(ctx context.Context, rs *runState) *Error {
	if !rs.cfg.ResumeFromState {
		return nil
	}

	for _, step := range models.StepOrder() {
		raw, ok := rs.state.CompletedResults[step]
		if !ok {
			continue
		}
		if validateCachedResult(step, raw) {
			continue
		}

		count, err := r.store.IncrementValidationFailure(ctx, rs.state.ReportID, step)
		if err != nil {
			return newError(models.ErrKindStateUnavailable, step, "validation counter increment failed: %v", err)
		}
		if rs.state.ValidationFailures == nil {
			rs.state.ValidationFailures = make(map[models.Step]int)
		}
		rs.state.ValidationFailures[step] = count

		if count > r.opts.ValidationCeiling {
			rs.log.Error("Cached result corrupted beyond retry ceiling",
				"step", step, "failures", count, "ceiling", r.opts.ValidationCeiling)
			return newError(models.ErrKindCorruptedState, step,
				"cached result for %s failed validation %d times (ceiling %d)",
				step, count, r.opts.ValidationCeiling)
		}

		rs.log.Warn("Discarding corrupted cached result, step will re-execute",
			"step", step, "failures", count)
		delete(rs.state.CompletedResults, step)
		st := rs.state.Step(step)
		*st = models.StepState{Status: models.StepStatusPending}
	}

	rs.state.RecomputeTotals()
	return r.persist(ctx, rs)
}

// walk advances the stage DAG in order, skipping validated cached steps.
func (r *Runner) walk(ctx context.Context, rs *runState, input Input) (*Outputs, error) {
	run := stages.RunContext{ReportID: rs.cfg.ReportID, UserID: rs.cfg.UserID, Options: rs.cfg.Options}

	// clustering
	clustering, cached, err := decodeCached[stages.ClusteringResult](rs, models.StepClustering)
	if err != nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepClustering, "cached clustering result undecodable: %v", err)
	}
	if !cached {
		result, err := r.runStep(ctx, rs, models.StepClustering, func(ctx context.Context) (stages.Result, *stages.Error) {
			out, serr := r.executors.Clustering.Execute(ctx, stages.ClusteringInput{
				Comments: input.Comments,
				Config:   input.ClusteringConfig,
				APIKey:   input.APIKey,
				Run:      run,
			})
			if serr != nil {
				return nil, serr
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		clustering = result.(*stages.ClusteringResult)
	}
	if clustering == nil || len(clustering.Data) == 0 {
		return nil, newError(models.ErrKindMissingDependency, models.StepClaims, "clustering produced no taxonomy")
	}

	// claims
	claims, cached, err := decodeCached[stages.ClaimsResult](rs, models.StepClaims)
	if err != nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepClaims, "cached claims result undecodable: %v", err)
	}
	if !cached {
		result, err := r.runStep(ctx, rs, models.StepClaims, func(ctx context.Context) (stages.Result, *stages.Error) {
			out, serr := r.executors.Claims.Execute(ctx, stages.ClaimsInput{
				Comments: input.Comments,
				Taxonomy: clustering.Data,
				Config:   input.ClaimsConfig,
				APIKey:   input.APIKey,
				Run:      run,
			})
			if serr != nil {
				return nil, serr
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		claims = result.(*stages.ClaimsResult)
	}
	if claims == nil || claims.Data == nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepSort, "claims produced no tree")
	}

	// sort_and_deduplicate
	sorted, cached, err := decodeCached[stages.SortResult](rs, models.StepSort)
	if err != nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepSort, "cached sort result undecodable: %v", err)
	}
	if !cached {
		result, err := r.runStep(ctx, rs, models.StepSort, func(ctx context.Context) (stages.Result, *stages.Error) {
			out, serr := r.executors.Sort.Execute(ctx, stages.SortInput{
				Tree:         claims.Data,
				Config:       input.DedupConfig,
				APIKey:       input.APIKey,
				SortStrategy: input.SortStrategy,
				Run:          run,
			})
			if serr != nil {
				return nil, serr
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		sorted = result.(*stages.SortResult)
	}
	if sorted == nil || sorted.Data == nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepSummaries, "sort produced no tree")
	}

	// summaries
	summaries, cached, err := decodeCached[stages.SummariesResult](rs, models.StepSummaries)
	if err != nil {
		return nil, newError(models.ErrKindMissingDependency, models.StepSummaries, "cached summaries result undecodable: %v", err)
	}
	if !cached {
		result, err := r.runStep(ctx, rs, models.StepSummaries, func(ctx context.Context) (stages.Result, *stages.Error) {
			out, serr := r.executors.Summaries.Execute(ctx, stages.SummariesInput{
				Tree:   sorted.Data,
				Config: input.SummariesConfig,
				APIKey: input.APIKey,
				Run:    run,
			})
			if serr != nil {
				return nil, serr
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		summaries = result.(*stages.SummariesResult)
	}

	// cruxes (conditional tail)
	var cruxes *stages.CruxesResult
	if input.EnableCruxes {
		if input.CruxesConfig == nil {
			return nil, newError(models.ErrKindInvalidInput, models.StepCruxes, "cruxes enabled without cruxes LLM config")
		}
		var cached bool
		cruxes, cached, err = decodeCached[stages.CruxesResult](rs, models.StepCruxes)
		if err != nil {
			return nil, newError(models.ErrKindMissingDependency, models.StepCruxes, "cached cruxes result undecodable: %v", err)
		}
		if !cached {
			result, err := r.runStep(ctx, rs, models.StepCruxes, func(ctx context.Context) (stages.Result, *stages.Error) {
				out, serr := r.executors.Cruxes.Execute(ctx, stages.CruxesInput{
					Tree:   claims.Data,
					Topics: clustering.Data,
					Config: *input.CruxesConfig,
					APIKey: input.APIKey,
					TopK:   input.CruxesTopK,
					Run:    run,
				})
				if serr != nil {
					return nil, serr
				}
				return out, nil
			})
			if err != nil {
				return nil, err
			}
			cruxes = result.(*stages.CruxesResult)
		}
	} else if err := r.markSkipped(ctx, rs, models.StepCruxes); err != nil {
		return nil, err
	}

	outputs := &Outputs{
		TopicTree:  clustering.Data,
		ClaimsTree: claims.Data,
		SortedTree: sorted.Data,
		Summaries:  summaries.Data,
		Cruxes:     cruxes,
	}
	if perr := r.checkOutputs(outputs, input.EnableCruxes); perr != nil {
		return nil, perr
	}
	return outputs, nil
}

// checkOutputs reports a synthetic missing_output failure rather than
// returning undefined data after a "successful" walk.
func (r *Runner) checkOutputs(outputs *Outputs, enableCruxes bool) *Error {
	switch {
	case len(outputs.TopicTree) == 0:
		return newError(models.ErrKindMissingOutput, models.StepClustering, "no topic tree produced")
	case outputs.ClaimsTree == nil:
		return newError(models.ErrKindMissingOutput, models.StepClaims, "no claims tree produced")
	case outputs.SortedTree == nil:
		return newError(models.ErrKindMissingOutput, models.StepSort, "no sorted tree produced")
	case len(outputs.Summaries) == 0:
		return newError(models.ErrKindMissingOutput, models.StepSummaries, "no summaries produced")
	case enableCruxes && outputs.Cruxes == nil:
		return newError(models.ErrKindMissingOutput, models.StepCruxes, "no cruxes produced")
	}
	return nil
}

// resultFromWalkError converts a walk failure into a Result, recording
// the error in state when the failure path has not already done so.
func (r *Runner) resultFromWalkError(ctx context.Context, rs *runState, err error) Result {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		// runStep already persisted the failed state, except when the
		// step result failed to marshal: that state is returned as is.
		return Result{
			State: stepErr.State,
			Error: &Error{
				Kind:    kindOf(stepErr.Err),
				Step:    stepErr.Step,
				Message: stepErr.Err.Error(),
				Err:     stepErr.Err,
			},
		}
	}

	var perr *Error
	if errors.As(err, &perr) {
		return r.failWith(ctx, rs, perr)
	}
	return r.failWith(ctx, rs, newError(models.ErrKindInternal, "", "%v", err))
}

// failWith records a terminal failure in state (best effort — lock-lost
// and store-down failures must not trigger further writes) and returns
// the failed Result.
func (r *Runner) failWith(ctx context.Context, rs *runState, perr *Error) Result {
	if rs.state != nil &&
		perr.Kind != models.ErrKindLockLost &&
		perr.Kind != models.ErrKindStateUnavailable &&
		perr.Kind != models.ErrKindAlreadyCompleted {
		rs.state.Status = models.PipelineStatusFailed
		rs.state.CurrentStep = ""
		rs.state.Error = &models.ErrorRecord{
			Message: perr.Message,
			Name:    perr.Kind,
			Step:    perr.Step,
		}
		if saveErr := r.persist(ctx, rs); saveErr != nil {
			rs.log.Warn("Failed to persist terminal error state", "error", saveErr)
		}
	}
	rs.log.Error("Pipeline failed", "kind", perr.Kind, "step", perr.Step, "error", perr.Message)
	return Result{State: rs.state, Error: perr}
}

// finalizeTimeout records the wall-clock budget expiry. The run context
// is already dead, so the write happens on a fresh context after
// re-verifying the lease.
func (r *Runner) finalizeTimeout(rs *runState) Result {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stored, err := r.store.Get(ctx, rs.cfg.ReportID)
	if err == nil {
		rs.state = stored
	}

	var timedOutStep models.Step
	if rs.state != nil {
		timedOutStep = rs.state.CurrentStep
	}
	perr := newError(models.ErrKindCancellation, timedOutStep,
		"pipeline timeout after %s", r.opts.Timeout)
	if rs.state != nil {
		rs.state.Status = models.PipelineStatusFailed
		rs.state.Error = &models.ErrorRecord{
			Message: perr.Message,
			Name:    models.ErrKindCancellation,
			Step:    rs.state.CurrentStep,
		}
		if saveErr := r.persist(ctx, rs); saveErr != nil {
			rs.log.Warn("Failed to persist timeout state", "error", saveErr)
		}
	}

	rs.log.Error("Pipeline timed out", "timeout", r.opts.Timeout)
	return Result{State: rs.state, Error: perr}
}

// GetPipelineStatus returns the stored state for a report, or nil when
// no record exists.
func GetPipelineStatus(ctx context.Context, reportID string, store *state.Store) (*models.PipelineState, error) {
	st, err := store.Get(ctx, reportID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

// CancelPipeline marks a non-terminal pipeline failed with a
// cancellation error. It is advisory: the running worker observes it at
// its next state write, which fails lock verification because the lease
// is broken here. Returns true when a cancellation was recorded.
func CancelPipeline(ctx context.Context, reportID string, store *state.Store) (bool, error) {
	st, err := store.Get(ctx, reportID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if st.Terminal() {
		return false, nil
	}

	st.Status = models.PipelineStatusFailed
	st.Error = &models.ErrorRecord{
		Message: fmt.Sprintf("pipeline for report %s cancelled", reportID),
		Name:    models.ErrKindCancellation,
		Step:    st.CurrentStep,
	}
	if err := store.Save(ctx, st); err != nil {
		return false, err
	}
	if err := store.BreakPipelineLock(ctx, reportID); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupPipelineState deletes a report's state record and counters.
func CleanupPipelineState(ctx context.Context, reportID string, store *state.Store) error {
	return store.Delete(ctx, reportID)
}
