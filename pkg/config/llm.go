package config

import (
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// StageLLMConfig is one stage's model and prompt pair as configured.
type StageLLMConfig struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}

// ToModel converts to the pipeline's LLM configuration shape.
func (c StageLLMConfig) ToModel() models.LLMConfig {
	return models.LLMConfig{
		ModelName:    c.Model,
		SystemPrompt: c.SystemPrompt,
		UserPrompt:   c.UserPrompt,
	}
}

// LLMConfig holds provider credentials resolution and the per-stage
// model/prompt settings.
type LLMConfig struct {
	// APIKeyEnv names the environment variable carrying the provider
	// API key. The key itself never appears in configuration or state.
	APIKeyEnv string `yaml:"api_key_env"`

	// Stages maps stage names to their LLM settings.
	Stages map[string]StageLLMConfig `yaml:"stages"`
}

// DefaultLLMConfig returns the built-in LLM defaults: gpt-4o-mini for
// every stage with generic deliberation prompts. Deployments override
// the prompts per report type.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv: "OPENAI_API_KEY",
		Stages: map[string]StageLLMConfig{
			string(models.StepClustering): {
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a professional research assistant organizing public deliberation input.",
				UserPrompt:   "Cluster the following comments into topics and subtopics. Respond with JSON {\"taxonomy\": [{\"topicName\", \"topicShortDescription\", \"subtopics\": [{\"subtopicName\", \"subtopicShortDescription\"}]}]}.\n\nComments:\n${comments}",
			},
			string(models.StepClaims): {
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a professional research assistant extracting atomic claims from participant comments.",
				UserPrompt:   "Given this taxonomy:\n${taxonomy}\n\nExtract the debatable claims made in this comment, each attached to one (topicName, subtopicName) pair from the taxonomy, with a supporting quote. Respond with JSON {\"claims\": [{\"claim\", \"quote\", \"topicName\", \"subtopicName\"}]}.\n\nComment:\n${comment}",
			},
			string(models.StepSort): {
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a professional research assistant deduplicating near-identical claims.",
				UserPrompt:   "Group near-duplicate claims in this list. Respond with JSON {\"groups\": [[indices of duplicates, representative first]]}.\n\nClaims:\n${claims}",
			},
			string(models.StepSummaries): {
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a professional research assistant summarizing deliberation topics.",
				UserPrompt:   "Write a neutral narrative summary of at most 140 words for this topic. Respond with JSON {\"summary\": \"...\"}.\n\nTopic:\n${topic}",
			},
			string(models.StepCruxes): {
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a professional research assistant identifying controversy axes in deliberations.",
				UserPrompt:   "For this topic, synthesize up to topK controversy-splitting statements (cruxes) and assign each speaker to the agree or disagree side. Respond with JSON {\"cruxes\": [{\"subtopicName\", \"cruxClaim\", \"agree\", \"disagree\", \"explanation\"}]}.\n\nTopic:\n${topic}",
			},
		},
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c == nil {
		return NewValidationError("llm", "", ErrMissingRequiredField)
	}
	if c.APIKeyEnv == "" {
		return NewValidationError("llm", "api_key_env", ErrMissingRequiredField)
	}
	for _, step := range models.StepOrder() {
		stage, ok := c.Stages[string(step)]
		if !ok {
			return NewValidationError("llm", "stages."+string(step), ErrMissingRequiredField)
		}
		if stage.Model == "" {
			return NewValidationError("llm", "stages."+string(step)+".model", ErrMissingRequiredField)
		}
		if stage.UserPrompt == "" {
			return NewValidationError("llm", "stages."+string(step)+".user_prompt", ErrMissingRequiredField)
		}
	}
	return nil
}

// Stage returns the configuration for one stage in model form.
func (c *LLMConfig) Stage(step models.Step) models.LLMConfig {
	return c.Stages[string(step)].ToModel()
}
