package stages

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// Sort strategies. The set is closed; anything else is invalid_input.
const (
	// SortByPeople orders by unique-speaker count desc, then claim count
	// desc, then name asc. This is the default report ordering.
	SortByPeople = "numPeople"
	// SortByClaims orders by claim count desc, then unique-speaker count
	// desc, then name asc.
	SortByClaims = "numClaims"
)

// SortInput is the sort_and_deduplicate stage payload.
type SortInput struct {
	Tree         models.ClaimsTree
	Config       models.LLMConfig
	APIKey       string
	SortStrategy string
	Run          RunContext
}

// SortResult carries the deduplicated, ordered tree plus analytics.
type SortResult struct {
	Data  models.SortedTree `json:"data"`
	Usage models.Usage      `json:"usage"`
	Cost  float64           `json:"cost"`
}

// Analytics implements Result.
func (r *SortResult) Analytics() (models.Usage, float64) {
	return r.Usage, r.Cost
}

// SortExecutor deduplicates near-identical claims within each subtopic
// (one LLM call per subtopic with more than one claim) and orders the
// tree by the requested strategy.
type SortExecutor struct {
	base
}

// NewSortExecutor creates the sort_and_deduplicate stage executor.
func NewSortExecutor(factory llm.Factory, opts ...Option) *SortExecutor {
	return &SortExecutor{base: newBase(factory, opts...)}
}

// dedupResponse is the provider's expected body shape for one subtopic:
// groups of claim indices, the first index of each group being the
// representative claim.
type dedupResponse struct {
	Groups [][]int `json:"groups"`
}

// subtopicKey addresses one subtopic's claim list during fan-out.
type subtopicKey struct {
	topic    string
	subtopic string
}

// Execute runs the sort_and_deduplicate stage. The user prompt template
// may only reference ${claims}.
func (e *SortExecutor) Execute(ctx context.Context, in SortInput) (*SortResult, *Error) {
	if in.SortStrategy != SortByPeople && in.SortStrategy != SortByClaims {
		return nil, invalidInput(models.StepSort, "unknown sort strategy %q", in.SortStrategy)
	}
	if len(in.Tree) == 0 {
		return nil, invalidInput(models.StepSort, "empty claims tree")
	}
	if in.Config.ModelName == "" {
		return nil, invalidInput(models.StepSort, "missing model name")
	}
	if _, serr := hydrate(models.StepSort, in.Config.UserPrompt,
		map[string]string{"claims": ""}, "claims"); serr != nil {
		return nil, serr
	}

	log := slog.With("report_id", in.Run.ReportID, "step", models.StepSort)

	deduped := make(map[subtopicKey][]models.ClaimWithDuplicates)
	var mu sync.Mutex
	var usage models.Usage
	var cost float64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for topicName, topic := range in.Tree {
		for subtopicName, sub := range topic.Subtopics {
			key := subtopicKey{topic: topicName, subtopic: subtopicName}
			claims := sub.Claims

			if len(claims) < 2 {
				mu.Lock()
				deduped[key] = passthroughClaims(claims)
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				userPrompt, serr := hydrate(models.StepSort, in.Config.UserPrompt,
					map[string]string{"claims": mustJSON(claims)}, "claims")
				if serr != nil {
					return serr
				}

				resp, serr := e.complete(gctx, models.StepSort, in.Config, in.APIKey, userPrompt)
				if serr != nil {
					return serr
				}

				var body dedupResponse
				if serr := decodeResponse(models.StepSort, resp.Content, &body); serr != nil {
					return serr
				}

				grouped := groupClaims(claims, body.Groups, log)

				mu.Lock()
				deduped[key] = grouped
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
	}
	if err := g.Wait(); err != nil {
		if serr, ok := err.(*Error); ok {
			return nil, serr
		}
		return nil, internalError(models.StepSort, err)
	}

	return &SortResult{
		Data:  buildSortedTree(in.Tree, deduped, in.SortStrategy),
		Usage: usage,
		Cost:  cost,
	}, nil
}

// passthroughClaims wraps claims without any deduplication.
func passthroughClaims(claims []models.BaseClaim) []models.ClaimWithDuplicates {
	out := make([]models.ClaimWithDuplicates, len(claims))
	for i, c := range claims {
		out[i] = models.ClaimWithDuplicates{BaseClaim: c}
	}
	return out
}

// groupClaims applies the provider's index groups to the claim list.
// The first valid index of a group is the representative; the rest
// become its duplicates. Invalid or repeated indices are ignored with a
// warning, and claims left unassigned surface as their own entries, so
// every input claim appears exactly once.
func groupClaims(claims []models.BaseClaim, groups [][]int, log *slog.Logger) []models.ClaimWithDuplicates {
	assigned := make([]bool, len(claims))
	var out []models.ClaimWithDuplicates

	for _, group := range groups {
		var entry *models.ClaimWithDuplicates
		for _, idx := range group {
			if idx < 0 || idx >= len(claims) || assigned[idx] {
				log.Warn("Ignoring invalid duplicate-group index", "index", idx)
				continue
			}
			assigned[idx] = true
			if entry == nil {
				out = append(out, models.ClaimWithDuplicates{BaseClaim: claims[idx]})
				entry = &out[len(out)-1]
				continue
			}
			entry.Duplicates = append(entry.Duplicates, claims[idx])
		}
	}

	for i, c := range claims {
		if !assigned[i] {
			out = append(out, models.ClaimWithDuplicates{BaseClaim: c})
		}
	}
	return out
}

// buildSortedTree assembles the ordered tree from the deduplicated
// subtopic claim lists and sorts both levels by the strategy.
func buildSortedTree(tree models.ClaimsTree, deduped map[subtopicKey][]models.ClaimWithDuplicates, strategy string) models.SortedTree {
	sorted := make(models.SortedTree, 0, len(tree))
	for topicName, topic := range tree {
		entry := models.SortedTopic{TopicName: topicName}
		topicSpeakers := make(map[string]struct{})

		for subtopicName := range topic.Subtopics {
			claims := deduped[subtopicKey{topic: topicName, subtopic: subtopicName}]
			sub := models.SortedSubtopic{
				SubtopicName: subtopicName,
				Counts: models.TreeCounts{
					Claims:   models.CountClaims(claims),
					Speakers: models.UniqueSpeakers(claims),
				},
				Claims: claims,
			}
			entry.Subtopics = append(entry.Subtopics, sub)
			entry.Counts.Claims += sub.Counts.Claims
			for _, c := range claims {
				topicSpeakers[c.Speaker] = struct{}{}
				for _, d := range c.Duplicates {
					topicSpeakers[d.Speaker] = struct{}{}
				}
			}
		}
		entry.Counts.Speakers = len(topicSpeakers)

		sort.Slice(entry.Subtopics, func(i, j int) bool {
			return lessByStrategy(strategy,
				entry.Subtopics[i].Counts, entry.Subtopics[j].Counts,
				entry.Subtopics[i].SubtopicName, entry.Subtopics[j].SubtopicName)
		})
		sorted = append(sorted, entry)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return lessByStrategy(strategy,
			sorted[i].Counts, sorted[j].Counts,
			sorted[i].TopicName, sorted[j].TopicName)
	})
	return sorted
}

// lessByStrategy fixes the total order for a strategy: primary count
// desc, secondary count desc, byte-wise name asc as the final tie-break.
func lessByStrategy(strategy string, a, b models.TreeCounts, nameA, nameB string) bool {
	primaryA, primaryB := a.Speakers, b.Speakers
	secondaryA, secondaryB := a.Claims, b.Claims
	if strategy == SortByClaims {
		primaryA, primaryB = a.Claims, b.Claims
		secondaryA, secondaryB = a.Speakers, b.Speakers
	}
	if primaryA != primaryB {
		return primaryA > primaryB
	}
	if secondaryA != secondaryB {
		return secondaryA > secondaryB
	}
	return nameA < nameB
}
