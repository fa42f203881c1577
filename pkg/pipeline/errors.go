package pipeline

import (
	"errors"
	"fmt"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/stages"
)

// Error is the structured pipeline failure returned inside a Result.
type Error struct {
	Kind    models.ErrorKind
	Message string
	Step    models.Step
	Err     error
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("pipeline %s (step %s): %s", e.Kind, e.Step, e.Message)
	}
	return fmt.Sprintf("pipeline %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// StepError carries a failed step's identity, the underlying error, and
// the post-failure state so callers can decide whether to resume.
type StepError struct {
	Step  models.Step
	Err   error
	State *models.PipelineState
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// newError builds a pipeline Error.
func newError(kind models.ErrorKind, step models.Step, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...)}
}

// kindOf extracts the structured kind from any error in the failure
// chain, defaulting to internal.
func kindOf(err error) models.ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var serr *stages.Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return models.ErrKindInternal
}
