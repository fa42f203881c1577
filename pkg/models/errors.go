package models

// ErrorKind is the closed taxonomy of structured error kinds shared by
// the stage executors, the state store, and the pipeline runner.
// Downstream code switches on kind, never on message text.
type ErrorKind string

const (
	// ErrKindInvalidInput means a payload or configuration was malformed.
	ErrKindInvalidInput ErrorKind = "invalid_input"

	// ErrKindUpstreamUnavailable means the LLM or compute service was
	// unreachable or returned a server error.
	ErrKindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// ErrKindUpstreamRateLimited means the provider rejected the call
	// with a rate limit; a retry-after hint may accompany it.
	ErrKindUpstreamRateLimited ErrorKind = "upstream_rate_limited"

	// ErrKindUpstreamInvalidResponse means the provider returned a
	// non-JSON body or one that does not match the stage's schema.
	ErrKindUpstreamInvalidResponse ErrorKind = "upstream_invalid_response"

	// ErrKindContentPolicy means the provider rejected the content.
	ErrKindContentPolicy ErrorKind = "content_policy"

	// ErrKindLockLost means the runner's lease expired or was stolen.
	ErrKindLockLost ErrorKind = "lock_lost"

	// ErrKindStateUnavailable means state store I/O failed.
	ErrKindStateUnavailable ErrorKind = "state_unavailable"

	// ErrKindCorruptedState means a recovered cached result failed
	// validation more times than the retry ceiling allows.
	ErrKindCorruptedState ErrorKind = "corrupted_state"

	// ErrKindMissingDependency means a prerequisite stage's output was
	// absent at runtime despite passing recovery validation.
	ErrKindMissingDependency ErrorKind = "missing_dependency"

	// ErrKindMissingOutput means the pipeline reached success without
	// producing a required artifact.
	ErrKindMissingOutput ErrorKind = "missing_output"

	// ErrKindCancellation means the run was cancelled, explicitly or by
	// the pipeline-wide timeout.
	ErrKindCancellation ErrorKind = "cancellation"

	// ErrKindInternal means a programmer error; not expected to recover.
	ErrKindInternal ErrorKind = "internal"

	// ErrKindNoStateToResume means a resume was requested but no state
	// record exists for the report.
	ErrKindNoStateToResume ErrorKind = "no_state_to_resume"

	// ErrKindAlreadyCompleted means a resume was requested for a report
	// whose pipeline already completed.
	ErrKindAlreadyCompleted ErrorKind = "already_completed"
)
