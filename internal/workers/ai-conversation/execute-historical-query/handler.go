package executehistoricalquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"blitz-workers/internal/common/database"
	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/models"
	planhistoricalquery "blitz-workers/internal/workers/ai-conversation/plan-historical-query"
	querypostgresql "blitz-workers/internal/workers/data-access/query-postgresql"
	"blitz-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "execute-historical-query"
)

var (
	ErrValidationFailed = errors.New("VALIDATION_FAILED")
	// ErrQueryPlanFailed covers plans that cannot be executed at all.
	ErrQueryPlanFailed = errors.New("QUERY_PLAN_FAILED")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Handler runs a query plan, validates the results and re-plans wrong or
// failed queries within the retry budget.
type Handler struct {
	config    *Config
	runner    SQLRunner
	replanner Replanner
	llm       llm.Completer
	docs      *registry.SchemaDocs
	logger    Logger
}

func NewHandler(config *Config, runner SQLRunner, replanner Replanner, completer llm.Completer, docs *registry.SchemaDocs, log Logger) *Handler {
	return &Handler{
		config:    config,
		runner:    runner,
		replanner: replanner,
		llm:       completer,
		docs:      docs,
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
	output := &Output{Plan: input.Plan, Attempts: []Attempt{}}

	switch input.Plan.Kind {
	case models.PlanNoQueryNeeded:
		return output, nil
	case models.PlanError:
		output.ErrorCode = ErrQueryPlanFailed.Error()
		output.ErrorMessage = input.Plan.Message
		return output, nil
	case models.PlanReusePreviousResult:
		return h.reuse(input, output), nil
	case models.PlanNewQuery, models.PlanReuseExample:
		return h.runWithRetries(ctx, input, output), nil
	}

	output.ErrorCode = ErrQueryPlanFailed.Error()
	output.ErrorMessage = fmt.Sprintf("unknown plan type %q", input.Plan.Kind)
	return output, nil
}

// reuse returns the stored result set of a prior turn exactly as stored.
func (h *Handler) reuse(input *Input, output *Output) *Output {
	idx := -1
	if input.Plan.TurnIndex != nil {
		idx = *input.Plan.TurnIndex
	}
	turn, ok := input.History.Context(h.config.HistoryTurns).TurnAt(idx)
	if !ok || !turn.HasResults() {
		output.ErrorCode = ErrQueryPlanFailed.Error()
		output.ErrorMessage = fmt.Sprintf("turn %d has no stored results", idx)
		return output
	}

	output.QueryResult = &models.QueryResult{
		Query:    turn.SQLQuery,
		Results:  turn.Results,
		Type:     models.ResultPreviousResults,
		RowCount: models.CountRows(turn.Results),
	}
	h.logger.Info("reusing previous results", map[string]interface{}{
		"turnIndex": idx,
		"rowCount":  output.QueryResult.RowCount,
	})
	return output
}

func (h *Handler) runWithRetries(ctx context.Context, input *Input, output *Output) *Output {
	plan := input.Plan
	var lastErr error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		var feedback planhistoricalquery.Feedback

		result, verdict, err := h.attempt(ctx, input, plan, output)
		switch {
		case err != nil:
			lastErr = err
			feedback = planhistoricalquery.Feedback{SQL: plan.SQL, Reason: err.Error()}
			if errors.Is(err, querypostgresql.ErrDatabaseUnavailable) {
				return h.finish(output, lastErr)
			}
		case verdict.IndicatesWrongResults(h.config.MinConfidence):
			output.QueryResult, output.Verdict, output.Plan = result, verdict, plan
			feedback = planhistoricalquery.Feedback{SQL: plan.SQL, Reason: retryReason(verdict)}
		default:
			output.QueryResult, output.Verdict, output.Plan = result, verdict, plan
			return h.finish(output, nil)
		}

		if attempt == h.config.MaxRetries || ctx.Err() != nil || h.replanner == nil {
			break
		}
		next, ok := h.replan(ctx, input, feedback)
		if !ok {
			break
		}
		plan = next
	}
	return h.finish(output, lastErr)
}

// attempt guards, executes and validates one plan. A nil verdict means the
// validator was unavailable and the results are accepted.
func (h *Handler) attempt(ctx context.Context, input *Input, plan models.QueryPlan, output *Output) (*models.QueryResult, *models.ValidationVerdict, error) {
	sql, err := database.SingleStatement(plan.SQL)
	if err != nil {
		output.Attempts = append(output.Attempts, Attempt{
			SQL: plan.SQL, Status: AttemptRejected, ErrorCode: querypostgresql.ErrorCode(err), Error: err.Error(),
		})
		return nil, nil, err
	}

	output.Executions++
	result, err := h.runner.Run(ctx, sql)
	if err != nil {
		h.logger.Warn("historical query failed", map[string]interface{}{
			"attempt":   output.Executions,
			"errorCode": querypostgresql.ErrorCode(err),
			"error":     err.Error(),
		})
		output.Attempts = append(output.Attempts, Attempt{
			SQL: sql, Status: AttemptFailed, ErrorCode: querypostgresql.ErrorCode(err), Error: err.Error(),
		})
		return nil, nil, err
	}

	verdict := h.validate(ctx, input, sql, result)
	record := Attempt{SQL: sql, Status: AttemptOK}
	if verdict != nil {
		confidence := verdict.ConfidenceResultsAreCorrect
		record.Confidence = &confidence
		if verdict.IndicatesWrongResults(h.config.MinConfidence) {
			record.Status = AttemptRetry
		}
	}
	output.Attempts = append(output.Attempts, record)
	return result, verdict, nil
}

func (h *Handler) replan(ctx context.Context, input *Input, feedback planhistoricalquery.Feedback) (models.QueryPlan, bool) {
	replanned, err := h.replanner.Replan(ctx, &planhistoricalquery.Input{
		Question:   input.Question,
		League:     input.League,
		Mode:       input.Mode,
		CustomData: input.CustomData,
		History:    input.History,
		Examples:   input.Examples,
	}, feedback)
	if err != nil {
		h.logger.Warn("re-planning failed", map[string]interface{}{
			"error": err.Error(),
		})
		return models.QueryPlan{}, false
	}
	if !replanned.Plan.Executable() {
		h.logger.Info("re-plan produced no new query", map[string]interface{}{
			"plan": string(replanned.Plan.Kind),
		})
		return models.QueryPlan{}, false
	}
	return replanned.Plan, true
}

// finish keeps the last successful result; only when none exists does the
// last error become the output's failure.
func (h *Handler) finish(output *Output, lastErr error) *Output {
	if output.QueryResult == nil && lastErr != nil {
		output.ErrorCode = querypostgresql.ErrorCode(lastErr)
		output.ErrorMessage = lastErr.Error()
	}
	h.logger.Info("historical query finished", map[string]interface{}{
		"executions": output.Executions,
		"attempts":   len(output.Attempts),
		"hasResult":  output.QueryResult != nil,
		"errorCode":  output.ErrorCode,
	})
	return output
}

func (h *Handler) schemaFor(league models.League) (string, bool) {
	if h.docs == nil {
		return "", false
	}
	return h.docs.For(string(league))
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

// Execute runs the plan in-process. Failures are reported through
// Output.ErrorCode; the returned error is always nil.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
