package stages

import (
	"context"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// ClusteringInput is the clustering stage payload.
type ClusteringInput struct {
	Comments []models.Comment
	Config   models.LLMConfig
	APIKey   string
	Run      RunContext
}

// ClusteringResult carries the extracted taxonomy plus analytics.
type ClusteringResult struct {
	Data  []models.PartialTopic `json:"data"`
	Usage models.Usage          `json:"usage"`
	Cost  float64               `json:"cost"`
}

// Analytics implements Result.
func (r *ClusteringResult) Analytics() (models.Usage, float64) {
	return r.Usage, r.Cost
}

// ClusteringExecutor derives a topic/subtopic taxonomy from the full
// comment batch in a single LLM call.
type ClusteringExecutor struct {
	base
}

// NewClusteringExecutor creates the clustering stage executor.
func NewClusteringExecutor(factory llm.Factory, opts ...Option) *ClusteringExecutor {
	return &ClusteringExecutor{base: newBase(factory, opts...)}
}

// clusteringResponse is the provider's expected body shape.
type clusteringResponse struct {
	Taxonomy []models.PartialTopic `json:"taxonomy"`
}

// Execute runs the clustering stage. The user prompt template may only
// reference ${comments}.
func (e *ClusteringExecutor) Execute(ctx context.Context, in ClusteringInput) (*ClusteringResult, *Error) {
	if len(in.Comments) == 0 {
		return nil, invalidInput(models.StepClustering, "no comments provided")
	}
	for _, c := range in.Comments {
		if c.ID == "" || c.Text == "" {
			return nil, invalidInput(models.StepClustering, "comment with empty id or text")
		}
	}
	if in.Config.ModelName == "" {
		return nil, invalidInput(models.StepClustering, "missing model name")
	}

	userPrompt, serr := hydrate(models.StepClustering, in.Config.UserPrompt,
		map[string]string{"comments": mustJSON(in.Comments)}, "comments")
	if serr != nil {
		return nil, serr
	}

	resp, serr := e.complete(ctx, models.StepClustering, in.Config, in.APIKey, userPrompt)
	if serr != nil {
		return nil, serr
	}

	var body clusteringResponse
	if serr := decodeResponse(models.StepClustering, resp.Content, &body); serr != nil {
		return nil, serr
	}
	if len(body.Taxonomy) == 0 {
		return nil, invalidResponse(models.StepClustering, "provider returned an empty taxonomy")
	}
	for _, t := range body.Taxonomy {
		if t.TopicName == "" {
			return nil, invalidResponse(models.StepClustering, "taxonomy entry without topicName")
		}
	}

	usage := models.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return &ClusteringResult{
		Data:  body.Taxonomy,
		Usage: usage,
		Cost:  llm.CostFor(in.Config.ModelName, resp.Usage),
	}, nil
}
