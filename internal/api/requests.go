package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"blitz-workers/internal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const maxQuestionLength = 2000

// ID accepts either a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// InsightRequest is the body of /generate-insights and /conversation.
type InsightRequest struct {
	Question       string          `json:"question"`
	CustomData     json.RawMessage `json:"customData,omitempty"`
	PartnerID      ID              `json:"partnerId,omitempty"`
	UserID         ID              `json:"userId,omitempty"`
	ConversationID ID              `json:"conversationId,omitempty"`
	// Simple asks for a short insight when Mode is not given.
	Simple bool   `json:"simple,omitempty"`
	League string `json:"league,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

func (r InsightRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Question,
			validation.Required,
			validation.By(func(value interface{}) error {
				if strings.TrimSpace(value.(string)) == "" {
					return validation.NewError("validation_required", "cannot be blank")
				}
				return nil
			}),
			validation.RuneLength(1, maxQuestionLength),
		),
		validation.Field(&r.League, validation.In("mlb", "nba", "MLB", "NBA")),
		validation.Field(&r.Mode, validation.In(
			string(models.ModeInsight), string(models.ModeReport), string(models.ModeTwitter),
		)),
		validation.Field(&r.CustomData, validation.By(func(value interface{}) error {
			raw, _ := value.(json.RawMessage)
			if len(raw) > 0 && !json.Valid(raw) {
				return validation.NewError("validation_json", "must be valid JSON")
			}
			return nil
		})),
	)
}

func (r InsightRequest) mode() models.OutputMode {
	if m := models.OutputMode(r.Mode); m.Valid() {
		return m
	}
	if r.Simple {
		return models.ModeInsight
	}
	return models.ModeReport
}

func (r InsightRequest) question(defaultLeague models.League) models.Question {
	return models.Question{
		Text:       strings.TrimSpace(r.Question),
		CustomData: r.CustomData,
		League:     models.ParseLeague(r.League, defaultLeague),
		Mode:       r.mode(),
	}
}

type FeedbackRequest struct {
	CallID  string `json:"callId"`
	Helpful *bool  `json:"helpful"`
}

func (r FeedbackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CallID, validation.Required),
		validation.Field(&r.Helpful, validation.NotNil),
	)
}

// InsightResponse is returned for answered turns.
type InsightResponse struct {
	CallID      string                 `json:"callId"`
	Response    string                 `json:"response"`
	Explanation *string                `json:"explanation"`
	Links       []models.Link          `json:"links"`
	SQLQuery    string                 `json:"sqlQuery,omitempty"`
	LiveData    map[string]interface{} `json:"liveData,omitempty"`
}

type ClarifyResponse struct {
	CallID  string `json:"callId"`
	Clarify string `json:"clarify"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ErrorResponse struct {
	CallID string    `json:"callId,omitempty"`
	Error  ErrorBody `json:"error"`
}
