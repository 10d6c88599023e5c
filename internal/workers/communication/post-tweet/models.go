package posttweet

import "blitz-workers/internal/models"

type Input struct {
	// TweetID is the mention being answered.
	TweetID string `json:"tweetId"`
	Text    string `json:"text"`
	// ThreadText is the conversation the mention replied to, if any.
	ThreadText string        `json:"threadText,omitempty"`
	Author     string        `json:"author,omitempty"`
	League     models.League `json:"league,omitempty"`
}

type SkipReason string

const (
	SkipEmptyQuestion SkipReason = "empty_question"
	SkipFatal         SkipReason = "fatal"
	SkipClarification SkipReason = "clarification"
	SkipEmptyReply    SkipReason = "empty_reply"
)

type Output struct {
	Posted     bool       `json:"posted"`
	ReplyID    string     `json:"replyId,omitempty"`
	Text       string     `json:"text,omitempty"`
	TurnID     string     `json:"turnId,omitempty"`
	SkipReason SkipReason `json:"skipReason,omitempty"`
	// Payload is the answer the tweet was cut from, for publication.
	Payload *models.ResponsePayload `json:"payload,omitempty"`
	League  models.League           `json:"league,omitempty"`
}
