// Package config loads and validates the worker configuration: Redis
// connection, pipeline knobs, per-stage LLM settings, queue sizing, and
// retention policy. User YAML merges over built-in defaults after
// environment variable expansion.
package config

import "fmt"

// Config is the root worker configuration.
type Config struct {
	Redis     *RedisConfig     `yaml:"redis"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	LLM       *LLMConfig       `yaml:"llm"`
	Queue     *QueueConfig     `yaml:"queue"`
	Retention *RetentionConfig `yaml:"retention"`
}

// RedisConfig holds the state store connection settings.
type RedisConfig struct {
	// URL is a redis:// connection URL. Typically supplied via
	// ${REDIS_URL} expansion.
	URL string `yaml:"url"`
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Redis == nil || c.Redis.URL == "" {
		return NewValidationError("redis", "url", ErrMissingRequiredField)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	return nil
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	Stages  int
	Workers int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{
		Stages:  len(c.LLM.Stages),
		Workers: c.Queue.WorkerCount,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("config{stages: %d, workers: %d}", len(c.LLM.Stages), c.Queue.WorkerCount)
}
