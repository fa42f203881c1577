package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the full built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Redis:     &RedisConfig{URL: "redis://localhost:6379/0"},
		Pipeline:  DefaultPipelineConfig(),
		LLM:       DefaultLLMConfig(),
		Queue:     DefaultQueueConfig(),
		Retention: DefaultRetentionConfig(),
	}
}

// Load reads and validates the worker configuration. An empty path
// yields the built-in defaults.
//
// Steps performed:
//  1. Read the YAML file
//  2. Expand environment variables
//  3. Parse into the user configuration
//  4. Merge user values over the built-in defaults
//  5. Validate
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &LoadError{File: path, Err: ErrConfigNotFound}
			}
			return nil, &LoadError{File: path, Err: err}
		}

		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}

		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"file", path,
		"stages", stats.Stages,
		"workers", stats.Workers)
	return cfg, nil
}
