package config

import "time"

// QueueConfig contains queue and worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per pod.
	WorkerCount int `yaml:"worker_count"`

	// PollTimeout is how long a worker blocks waiting for a job before
	// re-checking its shutdown signal.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// GracefulShutdownTimeout is the maximum time to wait for active
	// jobs to finish during shutdown. Should match the pipeline timeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		PollTimeout:             2 * time.Second,
		GracefulShutdownTimeout: 30 * time.Minute,
	}
}

// Validate checks the queue configuration.
func (c *QueueConfig) Validate() error {
	if c == nil {
		return NewValidationError("queue", "", ErrMissingRequiredField)
	}
	if c.WorkerCount < 1 || c.WorkerCount > 50 {
		return NewValidationError("queue", "worker_count", ErrInvalidValue)
	}
	if c.PollTimeout <= 0 {
		return NewValidationError("queue", "poll_timeout", ErrInvalidValue)
	}
	return nil
}
