package answerquestion

import (
	"encoding/json"

	"blitz-workers/internal/models"
)

type Input struct {
	Question          string            `json:"question"`
	League            models.League     `json:"league"`
	Mode              models.OutputMode `json:"mode"`
	CustomData        json.RawMessage   `json:"customData,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
	SkipClarification bool              `json:"skipClarification,omitempty"`
	History           models.History    `json:"history,omitempty"`
}

func (i *Input) question() models.Question {
	return models.Question{
		Text:              i.Question,
		CustomData:        i.CustomData,
		League:            i.League,
		Mode:              i.Mode,
		SessionID:         i.SessionID,
		SkipClarification: i.SkipClarification,
		History:           i.History,
	}
}

type Output struct {
	Turn *models.TurnOutcome `json:"turn"`
	// Fatal lets the process model route unanswerable turns without
	// inspecting the payload.
	Fatal bool `json:"fatal"`
	// Clarify is set when the turn ended with a clarifying question.
	Clarify bool `json:"clarify"`
}
