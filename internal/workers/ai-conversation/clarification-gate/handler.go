package clarificationgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "clarification-gate"
)

var (
	ErrClarificationFailed = errors.New("CLARIFICATION_FAILED")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Handler classifies a question as answer, clarify or proceed. It never
// fails: every problem with the model reply degrades to proceed.
type Handler struct {
	config *Config
	llm    llm.Completer
	logger Logger
}

func NewHandler(config *Config, completer llm.Completer, log Logger) *Handler {
	return &Handler{
		config: config,
		llm:    completer,
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
		h.failJob(client, job, fmt.Errorf("parse input: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, _ := h.execute(ctx, &input)
	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.Question) == "" {
		return proceed(), nil
	}

	reply, err := h.llm.Complete(ctx, llm.Request{
		Purpose:   "clarify",
		System:    buildSystemPrompt(input.League, h.config.now(), h.config.StructuredOutput),
		User:      buildUserPrompt(input, h.config.HistoryTurns),
		ForceJSON: h.config.StructuredOutput,
	})
	if err != nil {
		h.logger.Warn("clarification check failed, proceeding", map[string]interface{}{
			"error": err.Error(),
		})
		return proceed(), nil
	}

	output, err := parseReply(reply, h.config.StructuredOutput)
	if err != nil {
		h.logger.Warn("unusable clarification reply, proceeding", map[string]interface{}{
			"error": err.Error(),
			"reply": truncate(reply, 200),
		})
		return proceed(), nil
	}

	h.logger.Info("question classified", map[string]interface{}{
		"decision": string(output.Type),
	})
	return output, nil
}

// parseReply accepts the JSON decision object first and the ANSWER:/CLARIFY:/
// PROCEED prefix format second.
func parseReply(reply string, structured bool) (*Output, error) {
	if structured {
		if out, err := parseJSONReply(reply); err == nil {
			return out, nil
		}
	}
	return parsePrefixReply(reply)
}

func parseJSONReply(reply string) (*Output, error) {
	raw := llm.ExtractJSON(reply)
	if result := validation.ClarificationSchema.ValidateJSON([]byte(raw)); !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrClarificationFailed, result.Error())
	}

	var decoded struct {
		Type Decision `json:"type"`
		Text *string  `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClarificationFailed, err)
	}
	text := ""
	if decoded.Text != nil {
		text = *decoded.Text
	}
	return finalize(decoded.Type, text), nil
}

func parsePrefixReply(reply string) (*Output, error) {
	trimmed := strings.TrimSpace(llm.StripFences(reply))
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "ANSWER:"):
		return finalize(DecisionAnswer, trimmed[len("ANSWER:"):]), nil
	case strings.HasPrefix(upper, "CLARIFY:"):
		return finalize(DecisionClarify, trimmed[len("CLARIFY:"):]), nil
	case strings.HasPrefix(upper, "PROCEED"):
		return proceed(), nil
	}
	return nil, fmt.Errorf("%w: unrecognised reply", ErrClarificationFailed)
}

// finalize drops text from proceed and turns an empty answer or question into proceed.
func finalize(decision Decision, text string) *Output {
	text = strings.TrimSpace(text)
	if decision == DecisionProceed || text == "" {
		return proceed()
	}
	return &Output{Type: decision, Text: text}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":    job.Key,
		"error":     err.Error(),
		"errorCode": "INVALID_INPUT",
	})

	_, _ = client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(0).
		ErrorMessage("INVALID_INPUT: " + err.Error()).
		Send(context.Background())
}

// Execute runs the gate in-process. The returned error is always nil.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
