package executehistoricalquery

import (
	"context"
	"encoding/json"

	"blitz-workers/internal/models"
	planhistoricalquery "blitz-workers/internal/workers/ai-conversation/plan-historical-query"
)

type Input struct {
	Question   string            `json:"question"`
	League     models.League     `json:"league"`
	Mode       models.OutputMode `json:"mode,omitempty"`
	CustomData json.RawMessage   `json:"customData,omitempty"`
	History    models.History    `json:"history,omitempty"`
	Plan       models.QueryPlan  `json:"plan"`
	Examples   []models.Example  `json:"examples,omitempty"`
}

type AttemptStatus string

const (
	AttemptOK       AttemptStatus = "ok"
	AttemptFailed   AttemptStatus = "failed"
	AttemptRejected AttemptStatus = "rejected"
	AttemptRetry    AttemptStatus = "wrong_results"
)

// Attempt records one pass through execute and validate.
type Attempt struct {
	SQL        string        `json:"sql"`
	Status     AttemptStatus `json:"status"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Confidence *int          `json:"confidence,omitempty"`
}

type Output struct {
	QueryResult *models.QueryResult       `json:"queryResult"`
	Verdict     *models.ValidationVerdict `json:"verdict"`
	// Plan is the plan that produced QueryResult, after any re-planning.
	Plan       models.QueryPlan `json:"plan"`
	Attempts   []Attempt        `json:"attempts"`
	Executions int              `json:"executions"`
	// ErrorCode is set when no attempt produced a result.
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (o *Output) Failed() bool {
	return o.ErrorCode != ""
}

// SQLRunner executes one statement against the historical database.
type SQLRunner interface {
	Run(ctx context.Context, sql string) (*models.QueryResult, error)
}

// Replanner produces corrected SQL after a failed attempt.
type Replanner interface {
	Replan(ctx context.Context, input *planhistoricalquery.Input, feedback planhistoricalquery.Feedback) (*planhistoricalquery.Output, error)
}
