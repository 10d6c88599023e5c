package partnerrecords

import "blitz-workers/internal/models"

type Action string

const (
	ActionCall     Action = "call"
	ActionFeedback Action = "feedback"
)

type Input struct {
	Action   Action             `json:"action"`
	Call     *models.CallRecord `json:"call,omitempty"`
	Feedback *models.Feedback   `json:"feedback,omitempty"`
}

type Output struct {
	CallID    string `json:"callId"`
	Recorded  bool   `json:"recorded"`
	CreatedAt string `json:"createdAt"`
}
