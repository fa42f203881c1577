// Package stages implements the five LLM-backed stage executors of the
// report pipeline: clustering, claims, sort_and_deduplicate, summaries
// and cruxes. Each executor takes a typed input, returns a typed result
// carrying a uniform usage/cost envelope, and fails with a structured
// *Error — never a panic across the contract boundary.
package stages

import (
	"context"
	"encoding/json"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/prompt"
)

// defaultConcurrency bounds per-stage fan-out of LLM calls.
const defaultConcurrency = 8

// RunContext carries the correlation identifiers every stage input
// includes. Used for logging only; never sent to providers.
type RunContext struct {
	ReportID string
	UserID   string
	Options  map[string]string
}

// Result is implemented by every stage result so the step-execution
// wrapper can read the analytics envelope uniformly.
type Result interface {
	Analytics() (models.Usage, float64)
}

// Option configures a stage executor.
type Option func(*base)

// WithConcurrency bounds the number of concurrent LLM calls a stage
// makes while fanning out over comments, subtopics or topics.
func WithConcurrency(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// base holds what every executor needs: the provider factory and the
// fan-out bound.
type base struct {
	factory     llm.Factory
	concurrency int
}

func newBase(factory llm.Factory, opts ...Option) base {
	if factory == nil {
		factory = llm.ForModel
	}
	b := base{factory: factory, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// complete hydrates nothing; it sends an already-hydrated prompt pair to
// the provider selected for the configured model and returns the raw
// response.
func (b base) complete(ctx context.Context, step models.Step, cfg models.LLMConfig, apiKey, userPrompt string) (*llm.Response, *Error) {
	provider := b.factory(cfg.ModelName, apiKey)
	resp, err := provider.Complete(ctx, llm.Params{
		Model: cfg.ModelName,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: cfg.SystemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		JSONResponse: true,
	})
	if err != nil {
		return nil, fromProvider(step, err)
	}
	return resp, nil
}

// hydrate validates a template against the stage's closed placeholder
// set and substitutes the variables.
func hydrate(step models.Step, template string, vars map[string]string, allowed ...string) (string, *Error) {
	if err := prompt.Validate(template, allowed...); err != nil {
		return "", invalidInput(step, "user prompt: %v (allowed: %s)", err, prompt.Describe(allowed))
	}
	hydrated, err := prompt.Hydrate(template, vars)
	if err != nil {
		return "", invalidInput(step, "user prompt: %v", err)
	}
	return hydrated, nil
}

// decodeResponse parses a provider JSON body into the stage's expected
// shape. A non-JSON or mismatched body is upstream_invalid_response.
func decodeResponse(step models.Step, body string, out any) *Error {
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return invalidResponse(step, "provider returned non-JSON or mismatched body: %v", err)
	}
	return nil
}

// mustJSON marshals a value for prompt embedding. The inputs are plain
// data structs, so a marshal failure is a programmer error.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
