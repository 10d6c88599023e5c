package publishanswer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"blitz-workers/internal/common/errors"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const charset = "UTF-8"

// Service fans a finished answer out to the topic and, for reports, to the
// e-mail recipients.
type Service struct {
	config   *Config
	logger   logger.Logger
	sns      Publisher
	ses      EmailSender
	markdown goldmark.Markdown
	now      func() time.Time
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config:   config,
		logger:   deps.Logger,
		sns:      deps.SNS,
		ses:      deps.SES,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
	}
}

func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.Payload == nil || strings.TrimSpace(input.Payload.Response) == "" {
		return nil, errors.NewInvalidRequestError("payload with a response is required")
	}

	output := &Output{
		PublicationID: uuid.New().String(),
		Channels:      []string{},
		PublishedAt:   s.now().UTC(),
	}

	if s.config.SNSEnabled && s.sns != nil {
		messageID, err := s.publish(ctx, input, output)
		if err != nil {
			return nil, errors.NewPublishFailedError("sns", err)
		}
		output.MessageID = messageID
		output.Channels = append(output.Channels, "sns")
	}

	if s.config.SESEnabled && s.ses != nil && input.Mode == models.ModeReport {
		recipients, err := s.recipients(input)
		if err != nil {
			return nil, errors.NewInvalidRequestError(err.Error())
		}
		if len(recipients) > 0 {
			messageID, err := s.email(ctx, input, recipients)
			if err != nil {
				return nil, errors.NewPublishFailedError("ses", err)
			}
			output.EmailMessageIDs = append(output.EmailMessageIDs, messageID)
			output.Channels = append(output.Channels, "ses")
		}
	}

	output.Success = len(output.Channels) > 0
	s.logger.Info("answer published", map[string]interface{}{
		"publicationId": output.PublicationID,
		"turnId":        input.TurnID,
		"channels":      output.Channels,
		"mode":          string(input.Mode),
	})
	return output, nil
}

func (s *Service) publish(ctx context.Context, input *Input, output *Output) (string, error) {
	body, err := json.Marshal(message{
		PublicationID: output.PublicationID,
		TurnID:        input.TurnID,
		Question:      input.Question,
		League:        input.League,
		Mode:          input.Mode,
		Payload:       input.Payload,
		PublishedAt:   output.PublishedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	res, err := s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"league": {DataType: aws.String("String"), StringValue: aws.String(string(input.League))},
			"mode":   {DataType: aws.String("String"), StringValue: aws.String(string(input.Mode))},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(res.MessageId), nil
}

func (s *Service) recipients(input *Input) ([]string, error) {
	candidates := input.Recipients
	if len(candidates) == 0 {
		candidates = s.config.ReportTo
	}
	out := make([]string, 0, len(candidates))
	for _, addr := range candidates {
		parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q", addr)
		}
		out = append(out, parsed.Address)
	}
	return out, nil
}

func (s *Service) email(ctx context.Context, input *Input, recipients []string) (string, error) {
	htmlBody, err := s.renderReport(input.Payload)
	if err != nil {
		return "", err
	}

	subject := s.config.SubjectPrefix
	if q := strings.TrimSpace(input.Question); q != "" {
		subject = fmt.Sprintf("%s: %s", subject, q)
	}

	res, err := s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.config.FromEmail),
		Destination: &sestypes.Destination{ToAddresses: recipients},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String(charset)},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(htmlBody), Charset: aws.String(charset)},
				Text: &sestypes.Content{Data: aws.String(input.Payload.Response), Charset: aws.String(charset)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(res.MessageId), nil
}

// renderReport converts the Markdown response to an HTML document, followed
// by the explanation when there is one.
func (s *Service) renderReport(payload *models.ResponsePayload) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("<html><body>\n")
	if err := s.markdown.Convert([]byte(payload.Response), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	if payload.Explanation != nil && strings.TrimSpace(*payload.Explanation) != "" {
		fmt.Fprintf(&buf, "<p><em>%s</em></p>\n", html.EscapeString(*payload.Explanation))
	}
	buf.WriteString("</body></html>")
	return buf.String(), nil
}
