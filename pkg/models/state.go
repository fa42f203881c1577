package models

import "encoding/json"

// Step identifies one pipeline stage. "Stage" and "step" are synonymous.
type Step string

// Pipeline steps, in execution order.
const (
	StepClustering Step = "clustering"
	StepClaims     Step = "claims"
	StepSort       Step = "sort_and_deduplicate"
	StepSummaries  Step = "summaries"
	StepCruxes     Step = "cruxes"
)

// StepOrder returns the full walk order. The cruxes step is always
// present; when disabled the runner marks it skipped instead of running it.
func StepOrder() []Step {
	return []Step{StepClustering, StepClaims, StepSort, StepSummaries, StepCruxes}
}

// PipelineStatus is the lifecycle status of a whole pipeline run.
type PipelineStatus string

// Pipeline status constants.
const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)

// StepStatus is the lifecycle status of a single step.
type StepStatus string

// Step status constants.
const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusFailed     StepStatus = "failed"
)

// StepState captures one step's lifecycle and analytics within the
// durable state record. Timestamps are epoch milliseconds UTC; durations
// are milliseconds.
type StepState struct {
	Status       StepStatus `json:"status"`
	StartedAt    int64      `json:"startedAt,omitempty"`
	CompletedAt  int64      `json:"completedAt,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	InputTokens  int        `json:"inputTokens,omitempty"`
	OutputTokens int        `json:"outputTokens,omitempty"`
	TotalTokens  int        `json:"totalTokens,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ErrorRecord is the terminal error recorded in state so a later status
// query reveals why the pipeline failed.
type ErrorRecord struct {
	Message string    `json:"message"`
	Name    ErrorKind `json:"name"`
	Step    Step      `json:"step,omitempty"`
}

// PipelineState is the durable per-report record. It is created on the
// first run, mutated only by the unique lock holder, and deleted by an
// explicit cleanup call (with a store TTL as backstop).
//
// Invariants: at most one step is in_progress at a time; CurrentStep
// names the in_progress step if any; the totals equal the sums over
// completed steps' analytics; ValidationFailures[s] resets to zero on a
// completed write of s.
type PipelineState struct {
	ReportID           string                   `json:"reportId"`
	UserID             string                   `json:"userId"`
	Status             PipelineStatus           `json:"status"`
	CurrentStep        Step                     `json:"currentStep,omitempty"`
	Steps              map[Step]*StepState      `json:"steps"`
	CompletedResults   map[Step]json.RawMessage `json:"completedResults,omitempty"`
	ValidationFailures map[Step]int             `json:"validationFailures,omitempty"`
	TotalDurationMs    int64                    `json:"totalDurationMs"`
	TotalTokens        int                      `json:"totalTokens"`
	TotalCost          float64                  `json:"totalCost"`
	Error              *ErrorRecord             `json:"error,omitempty"`
	CreatedAt          int64                    `json:"createdAt"`
	UpdatedAt          int64                    `json:"updatedAt"`
}

// NewPipelineState creates a fresh state record with every step pending.
func NewPipelineState(reportID, userID string, nowMs int64) *PipelineState {
	steps := make(map[Step]*StepState, len(StepOrder()))
	for _, s := range StepOrder() {
		steps[s] = &StepState{Status: StepStatusPending}
	}
	return &PipelineState{
		ReportID:           reportID,
		UserID:             userID,
		Status:             PipelineStatusPending,
		Steps:              steps,
		CompletedResults:   make(map[Step]json.RawMessage),
		ValidationFailures: make(map[Step]int),
		CreatedAt:          nowMs,
		UpdatedAt:          nowMs,
	}
}

// Step returns the state entry for a step, creating a pending entry if
// the record predates the step (schema drift on resume).
func (s *PipelineState) Step(step Step) *StepState {
	if s.Steps == nil {
		s.Steps = make(map[Step]*StepState)
	}
	st, ok := s.Steps[step]
	if !ok {
		st = &StepState{Status: StepStatusPending}
		s.Steps[step] = st
	}
	return st
}

// RecomputeTotals re-derives the aggregate analytics from the completed
// steps, restoring the conservation invariant after any step write.
func (s *PipelineState) RecomputeTotals() {
	var durationMs int64
	var tokens int
	var cost float64
	for _, st := range s.Steps {
		if st.Status != StepStatusCompleted {
			continue
		}
		durationMs += st.DurationMs
		tokens += st.TotalTokens
		cost += st.Cost
	}
	s.TotalDurationMs = durationMs
	s.TotalTokens = tokens
	s.TotalCost = cost
}

// Terminal reports whether the pipeline reached a terminal status.
func (s *PipelineState) Terminal() bool {
	return s.Status == PipelineStatusCompleted || s.Status == PipelineStatusFailed
}
