package synthesizeresponse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/validation"
	"blitz-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "synthesize-response"
)

var (
	ErrSynthesisFailed = errors.New("SYNTHESIS_FAILED")
	ErrLLMTimeout      = errors.New("LLM_TIMEOUT")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

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
		h.failJob(client, job, fmt.Errorf("parse input: %w", err), 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		retries := int32(0)
		if job.Retries > 1 {
			retries = job.Retries - 1
		}
		h.failJob(client, job, err, retries)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	mode := effectiveMode(input.Mode)

	if !input.needsModel() {
		h.logger.Info("no data from any source, answering without the model", map[string]interface{}{
			"mode": string(mode),
		})
		return &Output{Payload: h.noDataPayload(input, mode), Mode: mode, Deterministic: true}, nil
	}

	req := llm.Request{
		Purpose:   "synthesize",
		System:    h.buildSystemPrompt(input),
		User:      h.buildUserPrompt(input),
		History:   historyMessages(input.History.Context(h.config.HistoryTurns)),
		ForceJSON: mode != models.ModeTwitter,
		MaxTokens: h.config.MaxTokens,
	}
	if h.config.Temperature > 0 {
		temperature := h.config.Temperature
		req.Temperature = &temperature
	}

	reply, err := h.llm.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrLLMTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrLLMTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	var payload *models.ResponsePayload
	if mode == models.ModeTwitter {
		payload = models.NewResponsePayload(FormatTweet(reply, h.config.DefaultHashtag, h.config.TweetMaxChars), nil, nil)
	} else {
		payload = h.parseReply(reply)
	}
	if strings.TrimSpace(payload.Response) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrSynthesisFailed)
	}

	h.logger.Info("response synthesized", map[string]interface{}{
		"mode":      string(mode),
		"links":     len(payload.Links),
		"hasSQL":    input.SQL() != "",
		"liveSets":  len(input.LiveData),
		"webResult": len(input.WebResults),
	})
	return &Output{Payload: payload, Mode: mode}, nil
}

// parseReply reads a JSON payload. Replies that are not a payload object are
// used verbatim as the response text.
func (h *Handler) parseReply(reply string) *models.ResponsePayload {
	raw := llm.ExtractJSON(reply)
	if result := validation.ResponsePayloadSchema.ValidateJSON([]byte(raw)); !result.Valid {
		h.logger.Warn("synthesizer reply is not a payload object, using raw text", map[string]interface{}{
			"error": result.Error(),
		})
		return models.NewResponsePayload(strings.TrimSpace(llm.StripFences(reply)), nil, nil)
	}

	var decoded models.ResponsePayload
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return models.NewResponsePayload(strings.TrimSpace(llm.StripFences(reply)), nil, nil)
	}

	links := make([]models.Link, 0, len(decoded.Links))
	for _, link := range decoded.Links {
		if !link.Type.Valid() || strings.TrimSpace(link.Name) == "" {
			h.logger.Warn("dropping link", map[string]interface{}{
				"type": string(link.Type),
				"name": link.Name,
			})
			continue
		}
		links = append(links, link)
	}

	explanation := decoded.Explanation
	if explanation != nil && strings.TrimSpace(*explanation) == "" {
		explanation = nil
	}
	return models.NewResponsePayload(strings.TrimSpace(decoded.Response), explanation, links)
}

// noDataPayload states plainly that nothing was found and names what was
// looked for.
func (h *Handler) noDataPayload(input *Input, mode models.OutputMode) *models.ResponsePayload {
	question := strings.TrimSpace(input.Question)
	response := fmt.Sprintf("I couldn't find any data to answer \"%s\" from the available sources.", question)

	var explanation string
	if sql := strings.TrimSpace(input.SQL()); sql != "" {
		explanation = fmt.Sprintf("The historical query returned no rows and no live or web data was available. Query: %s", sql)
	} else {
		explanation = fmt.Sprintf("No historical, live or web data was available for the question: %s", question)
	}

	if mode == models.ModeTwitter {
		response = FormatTweet("I couldn't find data to answer that one right now.", h.config.DefaultHashtag, h.config.TweetMaxChars)
	}
	return models.NewResponsePayload(response, &explanation, nil)
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
	if errors.Is(err, ErrLLMTimeout) {
		errorCode = ErrLLMTimeout.Error()
	} else if errors.Is(err, ErrSynthesisFailed) {
		errorCode = ErrSynthesisFailed.Error()
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
