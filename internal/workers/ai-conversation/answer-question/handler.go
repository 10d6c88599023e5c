package answerquestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"blitz-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "answer-question"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Answerer runs one question through the pipeline.
type Answerer interface {
	Answer(ctx context.Context, q models.Question) *models.TurnOutcome
}

type Handler struct {
	config   *Config
	answerer Answerer
	logger   Logger
}

func NewHandler(config *Config, answerer Answerer, log Logger) *Handler {
	return &Handler{
		config:   config,
		answerer: answerer,
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
		h.failJob(client, job, fmt.Errorf("%w: parse input: %v", ErrInvalidInput, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, err)
		return
	}
	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if err := h.validateInput(input); err != nil {
		return nil, err
	}

	turn := h.answerer.Answer(ctx, input.question())
	output := &Output{
		Turn:    turn,
		Fatal:   turn.Fatal(),
		Clarify: turn.Outcome == models.OutcomeClarification,
	}

	fields := map[string]interface{}{
		"turnId":     turn.TurnID,
		"outcome":    string(turn.Outcome),
		"executions": turn.Executions,
	}
	if turn.Error != nil {
		fields["errorCode"] = turn.Error.Code
		fields["errorKind"] = turn.Error.Kind
	}
	h.logger.Info("question answered", fields)
	return output, nil
}

func (h *Handler) validateInput(input *Input) error {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	if h.config.MaxQuestionLen > 0 && utf8.RuneCountInString(question) > h.config.MaxQuestionLen {
		return fmt.Errorf("%w: question exceeds %d characters", ErrInvalidInput, h.config.MaxQuestionLen)
	}
	if input.League != "" && !input.League.Valid() {
		return fmt.Errorf("%w: unsupported league %q", ErrInvalidInput, input.League)
	}
	if input.Mode != "" && !input.Mode.Valid() {
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidInput, input.Mode)
	}
	return nil
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

// failJob raises a BPMN error for rejected input so the process model can
// answer the caller instead of retrying.
func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":    job.Key,
		"error":     err.Error(),
		"errorCode": ErrInvalidInput.Error(),
	})

	_, _ = client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(ErrInvalidInput.Error()).
		ErrorMessage(err.Error()).
		Send(context.Background())
}

// Execute answers a question in-process.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
