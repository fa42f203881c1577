// Package queue distributes report jobs to pipeline workers through a
// Redis list. A popped job is delivered to exactly one worker; the
// pipeline lock and the resume-aware runner make redelivery safe.
package queue

import (
	"errors"

	"github.com/AIObjectives/t3c-pipeline/pkg/models"
	"github.com/AIObjectives/t3c-pipeline/pkg/pipeline"
)

// Queue errors.
var (
	// ErrNoJobsAvailable indicates the poll timed out with an empty queue.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// Job is one queued report request. The LLM API key is deliberately not
// part of the job document: it comes from the worker's environment and
// is never persisted.
type Job struct {
	JobID            string            `json:"jobId"`
	ReportID         string            `json:"reportId"`
	UserID           string            `json:"userId"`
	Comments         []models.Comment  `json:"comments"`
	ClusteringConfig models.LLMConfig  `json:"clusteringConfig"`
	ClaimsConfig     models.LLMConfig  `json:"claimsConfig"`
	DedupConfig      models.LLMConfig  `json:"dedupConfig"`
	SummariesConfig  models.LLMConfig  `json:"summariesConfig"`
	CruxesConfig     *models.LLMConfig `json:"cruxesConfig,omitempty"`
	SortStrategy     string            `json:"sortStrategy"`
	EnableCruxes     bool              `json:"enableCruxes"`
	CruxesTopK       int               `json:"cruxesTopK,omitempty"`
}

// PipelineInput converts the job into runner input, attaching the
// worker's API key.
func (j *Job) PipelineInput(apiKey string) pipeline.Input {
	return pipeline.Input{
		Comments:         j.Comments,
		APIKey:           apiKey,
		ClusteringConfig: j.ClusteringConfig,
		ClaimsConfig:     j.ClaimsConfig,
		DedupConfig:      j.DedupConfig,
		SummariesConfig:  j.SummariesConfig,
		CruxesConfig:     j.CruxesConfig,
		SortStrategy:     j.SortStrategy,
		EnableCruxes:     j.EnableCruxes,
		CruxesTopK:       j.CruxesTopK,
	}
}
