package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// Error is a structured stage failure. Stage executors never panic
// across their contract boundary; every failure is returned as an *Error
// tagged with a kind from the shared taxonomy.
type Error struct {
	Kind       models.ErrorKind
	Step       models.Step
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	return fmt.Sprintf("stage %s: %s: %s", e.Step, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// invalidInput builds an invalid_input failure.
func invalidInput(step models.Step, format string, args ...any) *Error {
	return &Error{
		Kind:    models.ErrKindInvalidInput,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}

// invalidResponse builds an upstream_invalid_response failure.
func invalidResponse(step models.Step, format string, args ...any) *Error {
	return &Error{
		Kind:    models.ErrKindUpstreamInvalidResponse,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}

// internalError builds an internal failure wrapping a programmer error.
func internalError(step models.Step, err error) *Error {
	return &Error{
		Kind:    models.ErrKindInternal,
		Step:    step,
		Message: err.Error(),
		Err:     err,
	}
}

// fromProvider maps an llm call failure to a stage error.
func fromProvider(step models.Step, err error) *Error {
	var perr *llm.Error
	if errors.As(err, &perr) {
		e := &Error{
			Step:       step,
			Message:    perr.Message,
			RetryAfter: perr.RetryAfter,
			Err:        err,
		}
		switch perr.Code {
		case llm.ErrCodeRateLimited:
			e.Kind = models.ErrKindUpstreamRateLimited
		case llm.ErrCodeUnavailable:
			e.Kind = models.ErrKindUpstreamUnavailable
		case llm.ErrCodeInvalidResponse:
			e.Kind = models.ErrKindUpstreamInvalidResponse
		case llm.ErrCodeContentPolicy:
			e.Kind = models.ErrKindContentPolicy
		case llm.ErrCodeInvalidRequest:
			e.Kind = models.ErrKindInvalidInput
		default:
			e.Kind = models.ErrKindInternal
		}
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:    models.ErrKindCancellation,
			Step:    step,
			Message: err.Error(),
			Err:     err,
		}
	}
	return &Error{
		Kind:    models.ErrKindUpstreamUnavailable,
		Step:    step,
		Message: err.Error(),
		Err:     err,
	}
}
