package stages

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// ClaimsInput is the claims stage payload.
type ClaimsInput struct {
	Comments []models.Comment
	Taxonomy []models.PartialTopic
	Config   models.LLMConfig
	APIKey   string
	Run      RunContext
}

// ClaimsResult carries the claims tree plus analytics.
type ClaimsResult struct {
	Data  models.ClaimsTree `json:"data"`
	Usage models.Usage      `json:"usage"`
	Cost  float64           `json:"cost"`
}

// Analytics implements Result.
func (r *ClaimsResult) Analytics() (models.Usage, float64) {
	return r.Usage, r.Cost
}

// ClaimsExecutor extracts atomic claims from each comment and attaches
// them to the taxonomy. Extraction fans out per comment with a bounded
// concurrency; the fan-out never leaks past the stage boundary.
type ClaimsExecutor struct {
	base
}

// NewClaimsExecutor creates the claims stage executor.
func NewClaimsExecutor(factory llm.Factory, opts ...Option) *ClaimsExecutor {
	return &ClaimsExecutor{base: newBase(factory, opts...)}
}

// claimsResponse is the provider's expected body shape for one comment.
type claimsResponse struct {
	Claims []extractedClaim `json:"claims"`
}

// extractedClaim is one claim as returned by the provider. Speaker and
// comment ID default to the source comment when the provider omits them.
type extractedClaim struct {
	Claim        string `json:"claim"`
	Quote        string `json:"quote"`
	Speaker      string `json:"speaker,omitempty"`
	TopicName    string `json:"topicName"`
	SubtopicName string `json:"subtopicName"`
	CommentID    string `json:"commentId,omitempty"`
}

// Execute runs the claims stage. The user prompt template may only
// reference ${taxonomy} and ${comment}.
func (e *ClaimsExecutor) Execute(ctx context.Context, in ClaimsInput) (*ClaimsResult, *Error) {
	if len(in.Comments) == 0 {
		return nil, invalidInput(models.StepClaims, "no comments provided")
	}
	if len(in.Taxonomy) == 0 {
		return nil, invalidInput(models.StepClaims, "empty taxonomy")
	}
	if in.Config.ModelName == "" {
		return nil, invalidInput(models.StepClaims, "missing model name")
	}
	// Fail template problems before spending any tokens.
	if _, serr := hydrate(models.StepClaims, in.Config.UserPrompt,
		map[string]string{"taxonomy": "", "comment": ""}, "taxonomy", "comment"); serr != nil {
		return nil, serr
	}

	commentIDs := make(map[string]struct{}, len(in.Comments))
	for _, c := range in.Comments {
		commentIDs[c.ID] = struct{}{}
	}
	taxonomyJSON := mustJSON(in.Taxonomy)
	log := slog.With("report_id", in.Run.ReportID, "step", models.StepClaims)

	perComment := make([][]models.BaseClaim, len(in.Comments))
	var mu sync.Mutex
	var usage models.Usage
	var cost float64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, comment := range in.Comments {
		g.Go(func() error {
			userPrompt, serr := hydrate(models.StepClaims, in.Config.UserPrompt, map[string]string{
				"taxonomy": taxonomyJSON,
				"comment":  mustJSON(comment),
			}, "taxonomy", "comment")
			if serr != nil {
				return serr
			}

			resp, serr := e.complete(gctx, models.StepClaims, in.Config, in.APIKey, userPrompt)
			if serr != nil {
				return serr
			}

			var body claimsResponse
			if serr := decodeResponse(models.StepClaims, resp.Content, &body); serr != nil {
				return serr
			}

			claims := make([]models.BaseClaim, 0, len(body.Claims))
			for _, ec := range body.Claims {
				claim := models.BaseClaim{
					Claim:        ec.Claim,
					Quote:        ec.Quote,
					Speaker:      ec.Speaker,
					TopicName:    ec.TopicName,
					SubtopicName: ec.SubtopicName,
					CommentID:    ec.CommentID,
				}
				if claim.Speaker == "" {
					claim.Speaker = comment.Speaker
				}
				if claim.CommentID == "" {
					claim.CommentID = comment.ID
				}

				// Referential integrity: a claim naming an unknown
				// (topic, subtopic) pair or comment is dropped, not fatal.
				if !models.HasSubtopic(in.Taxonomy, claim.TopicName, claim.SubtopicName) {
					log.Warn("Dropping claim with unknown taxonomy pair",
						"topic", claim.TopicName, "subtopic", claim.SubtopicName)
					continue
				}
				if _, ok := commentIDs[claim.CommentID]; !ok {
					log.Warn("Dropping claim with unknown comment id",
						"comment_id", claim.CommentID)
					continue
				}
				claims = append(claims, claim)
			}

			mu.Lock()
			perComment[i] = claims
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
		return nil, internalError(models.StepClaims, err)
	}

	// Flatten in comment order so equal inputs yield equal trees.
	var all []models.BaseClaim
	for _, claims := range perComment {
		all = append(all, claims...)
	}

	return &ClaimsResult{
		Data:  models.BuildClaimsTree(all),
		Usage: usage,
		Cost:  cost,
	}, nil
}
