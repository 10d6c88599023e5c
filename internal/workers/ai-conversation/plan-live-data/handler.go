package planlivedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/validation"
	"blitz-workers/internal/models"
	"blitz-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "plan-live-data"
)

var (
	ErrLivePlanInvalid = errors.New("LIVE_PLAN_INVALID")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Handler asks the model which live endpoints a question needs. Any failure
// yields the empty plan.
type Handler struct {
	config  *Config
	llm     llm.Completer
	catalog *registry.Catalog
	logger  Logger
}

func NewHandler(config *Config, completer llm.Completer, catalog *registry.Catalog, log Logger) *Handler {
	return &Handler{
		config:  config,
		llm:     completer,
		catalog: catalog,
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
	league := string(input.League)
	if len(h.catalog.Endpoints(league)) == 0 {
		h.logger.Info("no live endpoints for league", map[string]interface{}{"league": league})
		return &Output{Plan: models.NoLiveData()}, nil
	}

	reply, err := h.llm.Complete(ctx, llm.Request{
		Purpose:   "live_plan",
		System:    buildSystemPrompt(input.League, h.config.now(), h.catalog.Describe(league)),
		User:      buildUserPrompt(input, h.config.HistoryTurns),
		ForceJSON: true,
	})
	if err != nil {
		h.logger.Warn("live data planning failed, skipping live data", map[string]interface{}{
			"error": err.Error(),
		})
		return &Output{Plan: models.NoLiveData()}, nil
	}

	plan, err := parsePlan(reply)
	if err != nil {
		h.logger.Warn("invalid live data plan, skipping live data", map[string]interface{}{
			"error": err.Error(),
		})
		return &Output{Plan: models.NoLiveData()}, nil
	}

	output := &Output{Plan: plan}
	if plan.NeedsLiveData {
		output.Plan.Calls, output.Dropped = h.resolveCalls(league, plan.Calls)
		for _, ref := range output.Dropped {
			h.logger.Warn("dropping unknown endpoint", map[string]interface{}{"endpoint": ref})
		}
	}

	h.logger.Info("live data planned", map[string]interface{}{
		"needsLiveData": output.Plan.NeedsLiveData,
		"callCount":     len(output.Plan.Calls),
		"keyCount":      len(output.Plan.Keys),
	})
	return output, nil
}

func parsePlan(reply string) (models.LiveDataPlan, error) {
	raw := []byte(llm.ExtractJSON(reply))
	if result := validation.LiveDataPlanSchema.ValidateJSON(raw); !result.Valid {
		return models.LiveDataPlan{}, fmt.Errorf("%w: %s", ErrLivePlanInvalid, result.Error())
	}

	var decoded rawPlan
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return models.LiveDataPlan{}, fmt.Errorf("%w: %v", ErrLivePlanInvalid, err)
	}
	return decoded.toPlan(), nil
}

// resolveCalls keeps calls whose endpoint is in the catalog, rewriting names
// to their canonical template.
func (h *Handler) resolveCalls(league string, calls []models.LiveCall) ([]models.LiveCall, []string) {
	kept := make([]models.LiveCall, 0, len(calls))
	var dropped []string
	for _, call := range calls {
		ep, ok := h.catalog.Lookup(league, call.Endpoint)
		if !ok {
			dropped = append(dropped, strings.TrimSpace(call.Endpoint))
			continue
		}
		call.Endpoint = ep.Template
		kept = append(kept, call)
	}
	return kept, dropped
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

	if _, err = cmd.Send(context.Background()); err != nil {
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
