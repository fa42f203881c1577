package config

import "time"

// RetentionConfig controls the background cleanup of terminal pipeline
// states.
type RetentionConfig struct {
	// RetentionAge is how long terminal states are kept after their
	// last update.
	RetentionAge time.Duration `yaml:"retention_age"`

	// CleanupInterval is how often the retention pass runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionAge:    48 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if c == nil {
		return NewValidationError("retention", "", ErrMissingRequiredField)
	}
	if c.RetentionAge <= 0 {
		return NewValidationError("retention", "retention_age", ErrInvalidValue)
	}
	if c.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", ErrInvalidValue)
	}
	return nil
}
