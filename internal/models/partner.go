package models

import (
	"encoding/json"
	"time"
)

// CallRecord is one audited partner API call.
type CallRecord struct {
	ID             string          `json:"id" db:"id"`
	PartnerID      string          `json:"partnerId" db:"partner_id"`
	UserID         string          `json:"userId,omitempty" db:"user_id"`
	ConversationID string          `json:"conversationId,omitempty" db:"conversation_id"`
	Endpoint       string          `json:"endpoint" db:"endpoint"`
	Question       string          `json:"question" db:"question"`
	CustomData     json.RawMessage `json:"customData,omitempty" db:"custom_data"`
	SQLQuery       string          `json:"sqlQuery,omitempty" db:"sql_query"`
	ResponseText   string          `json:"responseText,omitempty" db:"response_text"`
	Error          string          `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

type Feedback struct {
	CallID  string `json:"callId"`
	Helpful bool   `json:"helpful"`
}
