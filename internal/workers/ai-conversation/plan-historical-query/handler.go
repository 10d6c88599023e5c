package planhistoricalquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"blitz-workers/internal/common/database"
	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/validation"
	"blitz-workers/internal/models"
	"blitz-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "plan-historical-query"

	reusePrefix = "USE_PREVIOUS_RESULTS"
	noSQLReply  = "NO_SQL_NEEDED"
)

var (
	ErrQueryPlanFailed = errors.New("QUERY_PLAN_FAILED")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config   *Config
	llm      llm.Completer
	searcher ExampleSearcher
	docs     *registry.SchemaDocs
	logger   Logger
}

// NewHandler builds the planner. searcher may be nil, in which case only
// examples passed in the input are used.
func NewHandler(config *Config, completer llm.Completer, searcher ExampleSearcher, docs *registry.SchemaDocs, log Logger) *Handler {
	return &Handler{
		config:   config,
		llm:      completer,
		searcher: searcher,
		docs:     docs,
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
		h.failJob(client, job, fmt.Errorf("parse input: %w", err), "INVALID_INPUT")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input, nil)
	if err != nil {
		h.failJob(client, job, err, ErrQueryPlanFailed.Error())
		return
	}
	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input, feedback *Feedback) (*Output, error) {
	if strings.TrimSpace(input.Question) == "" {
		return &Output{Plan: models.ErrorPlan("Please provide a valid question"), Examples: []models.Example{}}, nil
	}

	examples := h.examples(ctx, input)
	output := &Output{Examples: examples}

	schema, ok := h.schemaFor(input.League)
	if !ok {
		output.Plan = models.ErrorPlan(fmt.Sprintf("no schema documentation for league %q", input.League))
		return output, nil
	}

	history := input.History.Context(h.config.HistoryTurns)
	reply, err := h.llm.Complete(ctx, llm.Request{
		Purpose:   "query_plan",
		System:    buildSystemPrompt(input, history, examples, schema, h.config.now(), h.config.StructuredOutput),
		User:      buildUserPrompt(input, feedback),
		ForceJSON: h.config.StructuredOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryPlanFailed, err)
	}

	plan := parseReply(reply, h.config.StructuredOutput)
	output.Plan = h.finalize(plan, history, examples)

	h.logger.Info("query planned", map[string]interface{}{
		"plan":     string(output.Plan.Kind),
		"examples": len(examples),
		"replan":   feedback != nil,
	})
	return output, nil
}

func (h *Handler) examples(ctx context.Context, input *Input) []models.Example {
	if len(input.Examples) > 0 {
		return input.Examples
	}
	if h.searcher == nil || h.config.SimilarExamples <= 0 {
		return []models.Example{}
	}
	found, err := h.searcher.Search(ctx, input.Question, input.League, h.config.SimilarExamples)
	if err != nil {
		h.logger.Warn("similar query search failed, planning without examples", map[string]interface{}{
			"error": err.Error(),
		})
		return []models.Example{}
	}
	if found == nil {
		return []models.Example{}
	}
	return found
}

func (h *Handler) schemaFor(league models.League) (string, bool) {
	if h.docs == nil {
		return "", false
	}
	return h.docs.For(string(league))
}

// parseReply reads the JSON plan first and the legacy text protocol second.
func parseReply(reply string, structured bool) models.QueryPlan {
	if structured {
		plan, err := parseJSONReply(reply)
		if err == nil {
			return plan
		}
		if strings.HasPrefix(llm.StripFences(reply), "{") {
			return models.ErrorPlan("query plan did not match the expected format")
		}
	}
	return parseTextReply(reply)
}

func parseJSONReply(reply string) (models.QueryPlan, error) {
	raw := llm.ExtractJSON(reply)
	if result := validation.QueryPlanSchema.ValidateJSON([]byte(raw)); !result.Valid {
		return models.QueryPlan{}, fmt.Errorf("%w: %s", ErrQueryPlanFailed, result.Error())
	}

	var decoded struct {
		Type      models.PlanKind `json:"type"`
		SQL       *string         `json:"sql"`
		TurnIndex *int            `json:"turn_index"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return models.QueryPlan{}, fmt.Errorf("%w: %v", ErrQueryPlanFailed, err)
	}

	switch decoded.Type {
	case models.PlanNewQuery:
		return models.NewQueryPlan(*decoded.SQL), nil
	case models.PlanReuseExample:
		return models.ReuseExamplePlan(*decoded.SQL), nil
	case models.PlanReusePreviousResult:
		return models.ReusePreviousResultPlan(*decoded.TurnIndex), nil
	default:
		return models.NoQueryNeededPlan(), nil
	}
}

func parseTextReply(reply string) models.QueryPlan {
	text := strings.TrimSpace(llm.StripFences(reply))
	switch {
	case text == "":
		return models.ErrorPlan("empty reply from query planner")
	case text == noSQLReply:
		return models.NoQueryNeededPlan()
	case strings.HasPrefix(text, reusePrefix):
		idx, err := strconv.Atoi(strings.TrimSpace(text[len(reusePrefix):]))
		if err != nil || idx < 0 {
			return models.ErrorPlan(fmt.Sprintf("invalid previous result reference %q", text))
		}
		return models.ReusePreviousResultPlan(idx)
	}
	return models.NewQueryPlan(text)
}

// finalize checks reuse references against the history, recognises verbatim
// examples and enforces the single-statement rule.
func (h *Handler) finalize(plan models.QueryPlan, history models.History, examples []models.Example) models.QueryPlan {
	switch plan.Kind {
	case models.PlanReusePreviousResult:
		turn, ok := history.TurnAt(*plan.TurnIndex)
		if !ok || !turn.HasResults() {
			return models.ErrorPlan(fmt.Sprintf("turn %d has no stored results to reuse", *plan.TurnIndex))
		}
		return plan
	case models.PlanNewQuery, models.PlanReuseExample:
		sql, err := database.SingleStatement(plan.SQL)
		if err != nil {
			if errors.Is(err, database.ErrMultiStatement) {
				h.logger.Warn("rejected multi-statement SQL", map[string]interface{}{
					"sql": plan.SQL,
				})
				return models.ErrorPlan("multiple SQL statements are not allowed")
			}
			return models.ErrorPlan(err.Error())
		}
		if matchesExample(sql, examples) {
			return models.ReuseExamplePlan(sql)
		}
		if plan.Kind == models.PlanReuseExample {
			return models.ReuseExamplePlan(sql)
		}
		return models.NewQueryPlan(sql)
	}
	return plan
}

func matchesExample(sql string, examples []models.Example) bool {
	key := collapseSpace(sql)
	for _, ex := range examples {
		exSQL, err := database.SingleStatement(ex.SQL)
		if err != nil {
			continue
		}
		if collapseSpace(exSQL) == key {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
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

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error, code string) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":    job.Key,
		"error":     err.Error(),
		"errorCode": code,
	})

	_, _ = client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(0).
		ErrorMessage(code + ": " + err.Error()).
		Send(context.Background())
}

// Execute plans the first attempt for a question.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input, nil)
}

// Replan asks for a corrected query after a failed or rejected attempt. The
// examples of the first attempt are reused when input carries them.
func (h *Handler) Replan(ctx context.Context, input *Input, feedback Feedback) (*Output, error) {
	return h.execute(ctx, input, &feedback)
}
