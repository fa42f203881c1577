package models

// TopicSummary is one per-topic narrative summary (at most 140 words).
type TopicSummary struct {
	TopicName string `json:"topicName"`
	Summary   string `json:"summary"`
}
