// Package pipeline implements the report pipeline runner: an idempotent,
// resumable, lock-guarded orchestrator that walks the five-stage DAG,
// persists every intermediate result, validates recovered state, races
// the run against a wall-clock budget, and reports progress through
// one-way callbacks.
package pipeline

import (
	"context"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/stages"
)

// Defaults for runner options.
const (
	DefaultTimeout           = 30 * time.Minute
	DefaultValidationCeiling = 3
	DefaultLockLease         = 60 * time.Second
)

// Input carries the report content and per-stage LLM configuration for
// one pipeline run. The API key flows through by value and is never
// persisted in state.
type Input struct {
	Comments         []models.Comment
	APIKey           string
	ClusteringConfig models.LLMConfig
	ClaimsConfig     models.LLMConfig
	DedupConfig      models.LLMConfig
	SummariesConfig  models.LLMConfig
	CruxesConfig     *models.LLMConfig
	SortStrategy     string
	EnableCruxes     bool
	CruxesTopK       int
}

// Progress is the payload of the onProgress callback.
type Progress struct {
	CurrentStep     models.Step `json:"currentStep"`
	TotalSteps      int         `json:"totalSteps"`
	CompletedSteps  int         `json:"completedSteps"`
	PercentComplete int         `json:"percentComplete"`
}

// StepUpdateFunc observes step lifecycle transitions. Callbacks are
// one-way message sinks: a panicking callback is logged and swallowed,
// never breaking the pipeline.
type StepUpdateFunc func(step models.Step, status models.StepStatus)

// ProgressFunc observes overall progress after each completed step.
type ProgressFunc func(progress Progress)

// RunConfig identifies and parameterizes one runner invocation.
type RunConfig struct {
	ReportID        string
	UserID          string
	ResumeFromState bool
	// LockValue adopts an existing lease token instead of acquiring a
	// fresh one (for callers that pre-acquired the lock).
	LockValue    string
	Options      map[string]string
	OnStepUpdate StepUpdateFunc
	OnProgress   ProgressFunc
}

// Outputs are the artifacts of a successful run.
type Outputs struct {
	TopicTree  []models.PartialTopic `json:"topicTree"`
	ClaimsTree models.ClaimsTree     `json:"claimsTree"`
	SortedTree models.SortedTree     `json:"sortedTree"`
	Summaries  []models.TopicSummary `json:"summaries"`
	Cruxes     *stages.CruxesResult  `json:"cruxes,omitempty"`
}

// Result is the runner's return value. No errors leak across the runner
// boundary as panics or plain error returns; failures arrive here.
type Result struct {
	Success bool
	State   *models.PipelineState
	Outputs *Outputs
	Error   *Error
}

// ClusteringExecutor runs the clustering stage.
type ClusteringExecutor interface {
	Execute(ctx context.Context, in stages.ClusteringInput) (*stages.ClusteringResult, *stages.Error)
}

// ClaimsExecutor runs the claims stage.
type ClaimsExecutor interface {
	Execute(ctx context.Context, in stages.ClaimsInput) (*stages.ClaimsResult, *stages.Error)
}

// SortExecutor runs the sort_and_deduplicate stage.
type SortExecutor interface {
	Execute(ctx context.Context, in stages.SortInput) (*stages.SortResult, *stages.Error)
}

// SummariesExecutor runs the summaries stage.
type SummariesExecutor interface {
	Execute(ctx context.Context, in stages.SummariesInput) (*stages.SummariesResult, *stages.Error)
}

// CruxesExecutor runs the cruxes stage.
type CruxesExecutor interface {
	Execute(ctx context.Context, in stages.CruxesInput) (*stages.CruxesResult, *stages.Error)
}

// Executors bundles the five stage executors the runner drives.
type Executors struct {
	Clustering ClusteringExecutor
	Claims     ClaimsExecutor
	Sort       SortExecutor
	Summaries  SummariesExecutor
	Cruxes     CruxesExecutor
}

// NewExecutors wires the real LLM-backed stage executors.
func NewExecutors(factory llm.Factory, opts ...stages.Option) Executors {
	return Executors{
		Clustering: stages.NewClusteringExecutor(factory, opts...),
		Claims:     stages.NewClaimsExecutor(factory, opts...),
		Sort:       stages.NewSortExecutor(factory, opts...),
		Summaries:  stages.NewSummariesExecutor(factory, opts...),
		Cruxes:     stages.NewCruxesExecutor(factory, opts...),
	}
}

// Options tune the runner.
type Options struct {
	// Timeout is the wall-clock budget for the whole run.
	Timeout time.Duration
	// ValidationCeiling is the number of validation failures a cached
	// step result may accumulate before the pipeline fails permanently.
	ValidationCeiling int
	// LockLease is the pipeline lock lease duration, refreshed on every
	// successful verification.
	LockLease time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ValidationCeiling <= 0 {
		o.ValidationCeiling = DefaultValidationCeiling
	}
	if o.LockLease <= 0 {
		o.LockLease = DefaultLockLease
	}
	return o
}
