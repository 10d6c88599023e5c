package clarificationgate

import (
	"encoding/json"

	"blitz-workers/internal/models"
)

type Decision string

const (
	DecisionAnswer  Decision = "answer"
	DecisionClarify Decision = "clarify"
	DecisionProceed Decision = "proceed"
)

type Input struct {
	Question   string          `json:"question"`
	League     models.League   `json:"league"`
	CustomData json.RawMessage `json:"customData,omitempty"`
	History    models.History  `json:"history,omitempty"`
}

type Output struct {
	Type Decision `json:"type"`
	Text string   `json:"text,omitempty"`
}

func proceed() *Output {
	return &Output{Type: DecisionProceed}
}
