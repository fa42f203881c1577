package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
)

// Cached stage results are opaque JSON; recovery only asserts their
// structural contract. Every stage must carry the analytics envelope,
// the four tree-producing stages must carry a data key, and cruxes must
// carry its three analysis fields.
const (
	dataResultSchema = `{
		"type": "object",
		"required": ["usage", "cost", "data"]
	}`
	cruxesResultSchema = `{
		"type": "object",
		"required": ["usage", "cost", "subtopicCruxes", "topicScores", "speakerCruxMatrix"]
	}`
)

// resultSchemas holds the compiled per-step validators.
var resultSchemas = map[models.Step]*gojsonschema.Schema{}

func init() {
	for _, step := range models.StepOrder() {
		raw := dataResultSchema
		if step == models.StepCruxes {
			raw = cruxesResultSchema
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid result schema for step %s: %v", step, err))
		}
		resultSchemas[step] = schema
	}
}

// validateCachedResult checks a recovered cached result against its
// step's structural contract.
func validateCachedResult(step models.Step, raw json.RawMessage) bool {
	schema, ok := resultSchemas[step]
	if !ok {
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false
	}
	return result.Valid()
}
