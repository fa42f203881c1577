package stages

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/prompt"
)

// SummariesInput is the summaries stage payload.
type SummariesInput struct {
	Tree   models.SortedTree
	Config models.LLMConfig
	APIKey string
	Run    RunContext
}

// SummariesResult carries the per-topic narratives plus analytics.
type SummariesResult struct {
	Data  []models.TopicSummary `json:"data"`
	Usage models.Usage          `json:"usage"`
	Cost  float64               `json:"cost"`
}

// Analytics implements Result.
func (r *SummariesResult) Analytics() (models.Usage, float64) {
	return r.Usage, r.Cost
}

// SummariesExecutor writes one narrative summary per topic. Templates
// using ${topic} get one call per topic (fanned out); templates using
// ${topics} get a single batched call over the whole tree.
type SummariesExecutor struct {
	base
}

// NewSummariesExecutor creates the summaries stage executor.
func NewSummariesExecutor(factory llm.Factory, opts ...Option) *SummariesExecutor {
	return &SummariesExecutor{base: newBase(factory, opts...)}
}

// summaryResponse is the per-topic body shape.
type summaryResponse struct {
	Summary string `json:"summary"`
}

// batchedSummariesResponse is the batched body shape.
type batchedSummariesResponse struct {
	Summaries []models.TopicSummary `json:"summaries"`
}

// Execute runs the summaries stage. The user prompt template may
// reference ${topic} (per-topic calls) or ${topics} (one batched call).
func (e *SummariesExecutor) Execute(ctx context.Context, in SummariesInput) (*SummariesResult, *Error) {
	if len(in.Tree) == 0 {
		return nil, invalidInput(models.StepSummaries, "empty sorted tree")
	}
	if in.Config.ModelName == "" {
		return nil, invalidInput(models.StepSummaries, "missing model name")
	}
	if err := prompt.Validate(in.Config.UserPrompt, "topic", "topics"); err != nil {
		return nil, invalidInput(models.StepSummaries, "user prompt: %v (allowed: %s)",
			err, prompt.Describe([]string{"topic", "topics"}))
	}

	batched := false
	for _, name := range prompt.Placeholders(in.Config.UserPrompt) {
		if name == "topics" {
			batched = true
		}
	}
	if batched {
		return e.executeBatched(ctx, in)
	}
	return e.executePerTopic(ctx, in)
}

func (e *SummariesExecutor) executePerTopic(ctx context.Context, in SummariesInput) (*SummariesResult, *Error) {
	summaries := make([]models.TopicSummary, len(in.Tree))
	var mu sync.Mutex
	var usage models.Usage
	var cost float64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, topic := range in.Tree {
		g.Go(func() error {
			userPrompt, serr := hydrate(models.StepSummaries, in.Config.UserPrompt,
				map[string]string{"topic": mustJSON(topic)}, "topic", "topics")
			if serr != nil {
				return serr
			}

			resp, serr := e.complete(gctx, models.StepSummaries, in.Config, in.APIKey, userPrompt)
			if serr != nil {
				return serr
			}

			var body summaryResponse
			if serr := decodeResponse(models.StepSummaries, resp.Content, &body); serr != nil {
				return serr
			}
			if strings.TrimSpace(body.Summary) == "" {
				return invalidResponse(models.StepSummaries, "empty summary for topic %q", topic.TopicName)
			}

			mu.Lock()
			summaries[i] = models.TopicSummary{TopicName: topic.TopicName, Summary: body.Summary}
			usage.Add(models.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			})
			cost += llm.CostFor(in.Config.ModelName, resp.Usage)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if serr, ok := err.(*Error); ok {
			return nil, serr
		}
		return nil, internalError(models.StepSummaries, err)
	}

	return &SummariesResult{Data: summaries, Usage: usage, Cost: cost}, nil
}

func (e *SummariesExecutor) executeBatched(ctx context.Context, in SummariesInput) (*SummariesResult, *Error) {
	userPrompt, serr := hydrate(models.StepSummaries, in.Config.UserPrompt,
		map[string]string{"topics": mustJSON(in.Tree)}, "topic", "topics")
	if serr != nil {
		return nil, serr
	}

	resp, serr := e.complete(ctx, models.StepSummaries, in.Config, in.APIKey, userPrompt)
	if serr != nil {
		return nil, serr
	}

	var body batchedSummariesResponse
	if serr := decodeResponse(models.StepSummaries, resp.Content, &body); serr != nil {
		return nil, serr
	}
	if len(body.Summaries) == 0 {
		return nil, invalidResponse(models.StepSummaries, "provider returned no summaries")
	}

	usage := models.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return &SummariesResult{
		Data:  body.Summaries,
		Usage: usage,
		Cost:  llm.CostFor(in.Config.ModelName, resp.Usage),
	}, nil
}
