package planhistoricalquery

import (
	"context"
	"encoding/json"

	"blitz-workers/internal/models"
)

type Input struct {
	Question   string            `json:"question"`
	League     models.League     `json:"league"`
	Mode       models.OutputMode `json:"mode,omitempty"`
	CustomData json.RawMessage   `json:"customData,omitempty"`
	History    models.History    `json:"history,omitempty"`
	// Examples skips the similarity search when already known.
	Examples []models.Example `json:"examples,omitempty"`
}

type Output struct {
	Plan     models.QueryPlan `json:"plan"`
	Examples []models.Example `json:"examples"`
}

// Feedback describes why the previous SQL must be replaced.
type Feedback struct {
	SQL    string `json:"sql"`
	Reason string `json:"reason"`
}

// ExampleSearcher finds previously successful (question, SQL) pairs.
type ExampleSearcher interface {
	Search(ctx context.Context, question string, league models.League, topK int) ([]models.Example, error)
}
