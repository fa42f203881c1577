package llm

import "strings"

// ModelPricing holds per-model token pricing in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64 `json:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m"`
}

// defaultPricing is the built-in pricing table. Models absent from the
// table cost zero; analytics still carry their token counts.
var defaultPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},
	"o1":            {InputPer1M: 15.00, OutputPer1M: 60.00},
	"o1-mini":       {InputPer1M: 3.00, OutputPer1M: 12.00},

	// Anthropic
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
}

// CostFor computes the USD cost of a usage envelope for a model. Dated
// model names (e.g. "claude-3-5-haiku-20241022") fall back to their
// longest prefix entry in the table; unknown models cost zero.
func CostFor(model string, usage Usage) float64 {
	pricing, ok := lookupPricing(model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*pricing.InputPer1M +
		float64(usage.CompletionTokens)/1e6*pricing.OutputPer1M
}

func lookupPricing(model string) (ModelPricing, bool) {
	if p, ok := defaultPricing[model]; ok {
		return p, true
	}
	best := ""
	var found ModelPricing
	for name, p := range defaultPricing {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
			found = p
		}
	}
	return found, best != ""
}
