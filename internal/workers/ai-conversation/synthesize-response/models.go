package synthesizeresponse

import (
	"encoding/json"

	"blitz-workers/internal/models"
)

type Input struct {
	Question    string                 `json:"question"`
	League      models.League          `json:"league"`
	Mode        models.OutputMode      `json:"mode"`
	CustomData  json.RawMessage        `json:"customData,omitempty"`
	History     models.History         `json:"history,omitempty"`
	SQLQuery    string                 `json:"sqlQuery,omitempty"`
	QueryResult *models.QueryResult    `json:"queryResult,omitempty"`
	LiveData    map[string]interface{} `json:"liveData,omitempty"`
	WebResults  []models.WebResult     `json:"webResults,omitempty"`
	// FromHistory is set when the planner decided the conversation already
	// holds the answer, so the model runs even without fresh data.
	FromHistory bool `json:"fromHistory,omitempty"`
}

// SQL returns the query text behind the historical results, if any.
func (i *Input) SQL() string {
	if i.SQLQuery != "" || i.QueryResult == nil {
		return i.SQLQuery
	}
	return i.QueryResult.Query
}

// HasData reports whether any source produced something to answer from.
func (i *Input) HasData() bool {
	return !i.QueryResult.IsEmpty() || len(i.LiveData) > 0 || len(i.WebResults) > 0
}

func (i *Input) needsModel() bool {
	return i.HasData() || (i.FromHistory && len(i.History) > 0)
}

type Output struct {
	Payload *models.ResponsePayload `json:"payload"`
	Mode    models.OutputMode       `json:"mode"`
	// Deterministic marks an answer produced without the model.
	Deterministic bool `json:"deterministic,omitempty"`
}
