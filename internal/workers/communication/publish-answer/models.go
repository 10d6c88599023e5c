package publishanswer

import (
	"context"
	"time"

	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type Input struct {
	TurnID     string                  `json:"turnId,omitempty"`
	Question   string                  `json:"question"`
	League     models.League           `json:"league"`
	Mode       models.OutputMode       `json:"mode"`
	Payload    *models.ResponsePayload `json:"payload"`
	Recipients []string                `json:"recipients,omitempty"`
}

type Output struct {
	Success         bool      `json:"success"`
	PublicationID   string    `json:"publicationId"`
	MessageID       string    `json:"messageId,omitempty"`
	EmailMessageIDs []string  `json:"emailMessageIds,omitempty"`
	Channels        []string  `json:"channels"`
	PublishedAt     time.Time `json:"publishedAt"`
}

// Publisher is satisfied by the SNS client wrapper.
type Publisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// EmailSender is satisfied by the SES client wrapper.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type ServiceDependencies struct {
	Logger logger.Logger
	SNS    Publisher
	SES    EmailSender
}

// message is the JSON body published to the topic.
type message struct {
	PublicationID string                  `json:"publicationId"`
	TurnID        string                  `json:"turnId,omitempty"`
	Question      string                  `json:"question"`
	League        models.League           `json:"league"`
	Mode          models.OutputMode       `json:"mode"`
	Payload       *models.ResponsePayload `json:"payload"`
	PublishedAt   time.Time               `json:"publishedAt"`
}
