package posttweet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"blitz-workers/internal/models"
	synthesizeresponse "blitz-workers/internal/workers/ai-conversation/synthesize-response"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "post-tweet"
)

var (
	ErrTweetPostFailed = errors.New("TWEET_POST_FAILED")
	ErrInvalidInput    = errors.New("INVALID_INPUT")
)

var whitespace = regexp.MustCompile(`\s+`)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Answerer interface {
	Answer(ctx context.Context, q models.Question) *models.TurnOutcome
}

type Poster interface {
	PostReply(ctx context.Context, text, inReplyTo string) (string, error)
}

// Handler answers a mention of the bot account and posts the reply.
type Handler struct {
	config   *Config
	answerer Answerer
	poster   Poster
	logger   Logger
}

func NewHandler(config *Config, answerer Answerer, poster Poster, log Logger) *Handler {
	return &Handler{
		config:   config,
		answerer: answerer,
		poster:   poster,
		logger: log.With(map[string]interface{}{
			"taskType": TaskType,
		}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, fmt.Errorf("%w: parse input: %v", ErrInvalidInput, err), 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		retries := int32(0)
		if errors.Is(err, ErrTweetPostFailed) && job.Retries > 1 {
			retries = job.Retries - 1
		}
		h.failJob(client, job, err, retries)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	question := StripMention(input.Text, h.config.BotHandle)
	if question == "" {
		h.logger.Info("mention has no question, skipping", map[string]interface{}{
			"tweetId": input.TweetID,
		})
		return &Output{SkipReason: SkipEmptyQuestion}, nil
	}

	q := h.question(input, question)
	turn := h.answerer.Answer(ctx, q)
	output := &Output{TurnID: turn.TurnID, League: q.League}

	switch {
	case turn.Fatal():
		output.SkipReason = SkipFatal
	case turn.Outcome == models.OutcomeClarification:
		output.SkipReason = SkipClarification
	case turn.Payload == nil || strings.TrimSpace(turn.Payload.Response) == "":
		output.SkipReason = SkipEmptyReply
	}
	if output.SkipReason != "" {
		h.logger.Warn("not posting reply", map[string]interface{}{
			"tweetId": input.TweetID,
			"turnId":  turn.TurnID,
			"reason":  string(output.SkipReason),
		})
		return output, nil
	}

	text := synthesizeresponse.FormatTweet(turn.Payload.Response, h.config.Hashtag, h.config.MaxChars)
	if strings.TrimSpace(strings.TrimSuffix(text, h.config.Hashtag)) == "" {
		output.SkipReason = SkipEmptyReply
		return output, nil
	}

	replyID, err := h.poster.PostReply(ctx, text, input.TweetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTweetPostFailed, err)
	}

	output.Posted = true
	output.ReplyID = replyID
	output.Payload = turn.Payload
	output.Text = text
	h.logger.Info("reply posted", map[string]interface{}{
		"tweetId": input.TweetID,
		"replyId": replyID,
		"turnId":  turn.TurnID,
		"chars":   len([]rune(text)),
	})
	return output, nil
}

func (h *Handler) question(input *Input, text string) models.Question {
	q := models.Question{
		Text:   text,
		League: models.ParseLeague(string(input.League), h.config.League),
		Mode:   models.ModeTwitter,
	}
	if thread := strings.TrimSpace(input.ThreadText); thread != "" {
		if raw, err := json.Marshal("Tweet thread: " + thread); err == nil {
			q.CustomData = raw
		}
	}
	return q
}

// StripMention removes every @handle of the bot from text and collapses the
// remaining whitespace.
func StripMention(text, handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle != "" {
		re := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(handle) + `\b`)
		text = re.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)

	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error, retries int32) {
	errorCode := "UNKNOWN_ERROR"
	if errors.Is(err, ErrTweetPostFailed) {
		errorCode = ErrTweetPostFailed.Error()
	} else if errors.Is(err, ErrInvalidInput) {
		errorCode = ErrInvalidInput.Error()
	}

	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":    job.Key,
		"error":     err.Error(),
		"errorCode": errorCode,
	})

	_, _ = client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(retries).
		ErrorMessage(errorCode + ": " + err.Error()).
		Send(context.Background())
}

// Execute answers and posts in-process.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
