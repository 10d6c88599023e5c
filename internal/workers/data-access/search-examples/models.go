package searchexamples

import "blitz-workers/internal/models"

type Input struct {
	Question string        `json:"question"`
	League   models.League `json:"league"`
	TopK     int           `json:"topK,omitempty"`
}

type Output struct {
	Examples  []models.Example `json:"examples"`
	TotalHits int64            `json:"totalHits"`
	Reranked  bool             `json:"reranked"`
	Took      int64            `json:"took"` // milliseconds
}
