package stages

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// defaultTopK bounds cruxes per topic when the caller does not set one.
const defaultTopK = 3

// CruxesInput is the cruxes stage payload.
type CruxesInput struct {
	Tree   models.ClaimsTree
	Topics []models.PartialTopic
	Config models.LLMConfig
	APIKey string
	TopK   int
	Run    RunContext
}

// CruxesResult carries the controversy analysis plus analytics. The
// runner treats the three analysis fields as opaque and asserts only
// their presence.
type CruxesResult struct {
	SubtopicCruxes    []models.SubtopicCrux     `json:"subtopicCruxes"`
	TopicScores       []models.TopicScore       `json:"topicScores"`
	SpeakerCruxMatrix []models.SpeakerCruxEntry `json:"speakerCruxMatrix"`
	Usage             models.Usage              `json:"usage"`
	Cost              float64                   `json:"cost"`
}

// Analytics implements Result.
func (r *CruxesResult) Analytics() (models.Usage, float64) {
	return r.Usage, r.Cost
}

// CruxesExecutor synthesizes controversy-splitting statements per topic
// (one LLM call each) and derives topic controversy scores and the
// speaker agreement matrix from the crux side assignments.
type CruxesExecutor struct {
	base
}

// NewCruxesExecutor creates the cruxes stage executor.
func NewCruxesExecutor(factory llm.Factory, opts ...Option) *CruxesExecutor {
	return &CruxesExecutor{base: newBase(factory, opts...)}
}

// cruxesResponse is the provider's expected body shape for one topic.
type cruxesResponse struct {
	Cruxes []models.SubtopicCrux `json:"cruxes"`
}

// cruxTopicPrompt is the ${topic} payload: the topic's claims plus the
// requested crux budget.
type cruxTopicPrompt struct {
	TopicName string             `json:"topicName"`
	Subtopics models.TopicClaims `json:"subtopics"`
	TopK      int                `json:"topK"`
}

// Execute runs the cruxes stage. The user prompt template may only
// reference ${topic}.
func (e *CruxesExecutor) Execute(ctx context.Context, in CruxesInput) (*CruxesResult, *Error) {
	if len(in.Tree) == 0 {
		return nil, invalidInput(models.StepCruxes, "empty claims tree")
	}
	if len(in.Topics) == 0 {
		return nil, invalidInput(models.StepCruxes, "empty taxonomy")
	}
	if in.Config.ModelName == "" {
		return nil, invalidInput(models.StepCruxes, "missing model name")
	}
	if _, serr := hydrate(models.StepCruxes, in.Config.UserPrompt,
		map[string]string{"topic": ""}, "topic"); serr != nil {
		return nil, serr
	}
	topK := in.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	perTopic := make(map[string][]models.SubtopicCrux, len(in.Tree))
	var mu sync.Mutex
	var usage models.Usage
	var cost float64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, topic := range in.Topics {
		claims, ok := in.Tree[topic.TopicName]
		if !ok {
			continue
		}
		g.Go(func() error {
			payload := cruxTopicPrompt{
				TopicName: topic.TopicName,
				Subtopics: claims,
				TopK:      topK,
			}
			userPrompt, serr := hydrate(models.StepCruxes, in.Config.UserPrompt,
				map[string]string{"topic": mustJSON(payload)}, "topic")
			if serr != nil {
				return serr
			}

			resp, serr := e.complete(gctx, models.StepCruxes, in.Config, in.APIKey, userPrompt)
			if serr != nil {
				return serr
			}

			var body cruxesResponse
			if serr := decodeResponse(models.StepCruxes, resp.Content, &body); serr != nil {
				return serr
			}
			cruxes := body.Cruxes
			if len(cruxes) > topK {
				cruxes = cruxes[:topK]
			}

			mu.Lock()
			perTopic[topic.TopicName] = cruxes
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
		return nil, internalError(models.StepCruxes, err)
	}

	// Assemble in taxonomy order for deterministic output.
	var all []models.SubtopicCrux
	var scores []models.TopicScore
	for _, topic := range in.Topics {
		cruxes, ok := perTopic[topic.TopicName]
		if !ok {
			continue
		}
		all = append(all, cruxes...)
		scores = append(scores, models.TopicScore{
			TopicName: topic.TopicName,
			Score:     controversyScore(cruxes),
		})
	}

	return &CruxesResult{
		SubtopicCruxes:    all,
		TopicScores:       scores,
		SpeakerCruxMatrix: speakerMatrix(all),
		Usage:             usage,
		Cost:              cost,
	}, nil
}

// controversyScore rates how evenly speakers split across a topic's
// cruxes: 1 is a perfect split, 0 is unanimous (or no assignments).
func controversyScore(cruxes []models.SubtopicCrux) float64 {
	if len(cruxes) == 0 {
		return 0
	}
	var total float64
	for _, c := range cruxes {
		agree, disagree := len(c.Agree), len(c.Disagree)
		if agree+disagree == 0 {
			continue
		}
		diff := agree - disagree
		if diff < 0 {
			diff = -diff
		}
		total += 1 - float64(diff)/float64(agree+disagree)
	}
	return total / float64(len(cruxes))
}

// speakerMatrix computes pairwise agreement: for every speaker pair that
// took a side on at least one shared crux, the fraction of shared cruxes
// where they landed on the same side.
func speakerMatrix(cruxes []models.SubtopicCrux) []models.SpeakerCruxEntry {
	type pair struct{ a, b string }
	shared := make(map[pair]int)
	agreed := make(map[pair]int)

	for _, c := range cruxes {
		side := make(map[string]int)
		for _, s := range c.Agree {
			side[s] = 1
		}
		for _, s := range c.Disagree {
			side[s] = -1
		}
		speakers := make([]string, 0, len(side))
		for s := range side {
			speakers = append(speakers, s)
		}
		sort.Strings(speakers)
		for i := 0; i < len(speakers); i++ {
			for j := i + 1; j < len(speakers); j++ {
				p := pair{a: speakers[i], b: speakers[j]}
				shared[p]++
				if side[p.a] == side[p.b] {
					agreed[p]++
				}
			}
		}
	}

	entries := make([]models.SpeakerCruxEntry, 0, len(shared))
	for p, n := range shared {
		entries = append(entries, models.SpeakerCruxEntry{
			SpeakerA:  p.a,
			SpeakerB:  p.b,
			Agreement: float64(agreed[p]) / float64(n),
			Shared:    n,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SpeakerA != entries[j].SpeakerA {
			return entries[i].SpeakerA < entries[j].SpeakerA
		}
		return entries[i].SpeakerB < entries[j].SpeakerB
	})
	return entries
}
