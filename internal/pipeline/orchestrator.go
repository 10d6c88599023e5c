// Package pipeline runs one question through the answer state machine:
// clarification, the live-data and historical branches, then synthesis.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	errs "blitz-workers/internal/common/errors"
	"blitz-workers/internal/common/metrics"
	"blitz-workers/internal/common/observability"
	"blitz-workers/internal/models"
	clarificationgate "blitz-workers/internal/workers/ai-conversation/clarification-gate"
	enrichwebsearch "blitz-workers/internal/workers/ai-conversation/enrich-web-search"
	executehistoricalquery "blitz-workers/internal/workers/ai-conversation/execute-historical-query"
	fetchlivedata "blitz-workers/internal/workers/ai-conversation/fetch-live-data"
	planhistoricalquery "blitz-workers/internal/workers/ai-conversation/plan-historical-query"
	planlivedata "blitz-workers/internal/workers/ai-conversation/plan-live-data"
	synthesizeresponse "blitz-workers/internal/workers/ai-conversation/synthesize-response"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FallbackMessage is the payload of a turn that could not be answered.
const FallbackMessage = "Sorry, I could not answer that question right now."

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type ClarificationGate interface {
	Execute(ctx context.Context, input *clarificationgate.Input) (*clarificationgate.Output, error)
}

type LivePlanner interface {
	Execute(ctx context.Context, input *planlivedata.Input) (*planlivedata.Output, error)
}

type LiveFetcher interface {
	Execute(ctx context.Context, input *fetchlivedata.Input) (*fetchlivedata.Output, error)
}

type WebSearcher interface {
	Execute(ctx context.Context, input *enrichwebsearch.Input) (*enrichwebsearch.Output, error)
}

type QueryPlanner interface {
	Execute(ctx context.Context, input *planhistoricalquery.Input) (*planhistoricalquery.Output, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, input *executehistoricalquery.Input) (*executehistoricalquery.Output, error)
}

type Synthesizer interface {
	Execute(ctx context.Context, input *synthesizeresponse.Input) (*synthesizeresponse.Output, error)
}

type ConversationStore interface {
	Append(ctx context.Context, sessionID string, turn models.ConversationTurn) error
	History(ctx context.Context, sessionID string, limit int) (models.History, error)
}

type TurnRecorder interface {
	RecordTurn(ctx context.Context, outcome string, duration time.Duration)
}

// Stages holds one implementation per pipeline step. Gate, LivePlanner,
// LiveFetcher and WebSearch are optional; a nil stage is skipped.
type Stages struct {
	Gate         ClarificationGate
	LivePlanner  LivePlanner
	LiveFetcher  LiveFetcher
	WebSearch    WebSearcher
	QueryPlanner QueryPlanner
	Executor     QueryExecutor
	Synthesizer  Synthesizer
}

type Orchestrator struct {
	config   *Config
	stages   Stages
	store    ConversationStore
	recorder TurnRecorder
	tracer   trace.Tracer
	logger   Logger
}

func New(config *Config, stages Stages, store ConversationStore, recorder TurnRecorder, log Logger) *Orchestrator {
	return &Orchestrator{
		config:   config,
		stages:   stages,
		store:    store,
		recorder: recorder,
		tracer:   observability.Tracer(),
		logger: log.With(map[string]interface{}{
			"component": "pipeline",
		}),
	}
}

// branches collects what the concurrent data branches produced. Each
// goroutine writes only its own fields.
type branches struct {
	liveTrail  []models.PipelineState
	webTrail   []models.PipelineState
	queryTrail []models.PipelineState

	livePlan models.LiveDataPlan
	live     *fetchlivedata.Output
	web      *enrichwebsearch.Output
	plan     *planhistoricalquery.Output
	planErr  error
	exec     *executehistoricalquery.Output
}

// Answer runs one turn. It never fails: stage errors are mapped onto the
// outcome according to their kind.
func (o *Orchestrator) Answer(ctx context.Context, q models.Question) *models.TurnOutcome {
	start := time.Now()
	q = o.normalize(q)
	out := &models.TurnOutcome{
		TurnID: uuid.NewString(),
		Trace:  []models.PipelineState{models.StateStart},
	}
	log := o.logger.With(map[string]interface{}{
		"turnId":    out.TurnID,
		"sessionId": q.SessionID,
		"league":    string(q.League),
		"mode":      string(q.Mode),
	})

	ctx, span := o.tracer.Start(ctx, "pipeline.answer", trace.WithAttributes(
		attribute.String("turn.id", out.TurnID),
		attribute.String("league", string(q.League)),
		attribute.String("mode", string(q.Mode)),
	))
	defer span.End()

	history := o.loadHistory(ctx, q, log)

	if o.clarify(ctx, q, history, out, log) {
		return o.finish(ctx, q, out, start, log)
	}

	b := o.gather(ctx, q, history, log)
	out.Trace = append(out.Trace, b.liveTrail...)
	out.Trace = append(out.Trace, b.webTrail...)
	out.Trace = append(out.Trace, b.queryTrail...)

	o.merge(b, out)
	if o.unanswerable(out) {
		log.Error("historical database unavailable and no other sources", map[string]interface{}{
			"errorCode": out.Error.Code,
		})
		return o.finish(ctx, q, out, start, log)
	}

	o.synthesize(ctx, q, history, out, log)
	return o.finish(ctx, q, out, start, log)
}

func (o *Orchestrator) normalize(q models.Question) models.Question {
	if !q.League.Valid() {
		q.League = o.config.DefaultLeague
		if !q.League.Valid() {
			q.League = models.LeagueMLB
		}
	}
	if !q.Mode.Valid() {
		q.Mode = models.ModeInsight
	}
	q.Text = strings.TrimSpace(q.Text)
	return q
}

func (o *Orchestrator) loadHistory(ctx context.Context, q models.Question, log Logger) models.History {
	if q.History != nil {
		return q.History.Context(o.config.HistoryTurns)
	}
	if o.store == nil || q.SessionID == "" {
		return models.History{}
	}
	history, err := o.store.History(ctx, q.SessionID, o.config.HistoryTurns)
	if err != nil {
		log.Warn("conversation history unavailable", map[string]interface{}{
			"errorCode": string(errs.ErrCodeConversationStoreFailed),
			"error":     err.Error(),
		})
		return models.History{}
	}
	return history.Context(o.config.HistoryTurns)
}

// clarify runs the gate and reports whether the turn ended there.
func (o *Orchestrator) clarify(ctx context.Context, q models.Question, history models.History, out *models.TurnOutcome, log Logger) bool {
	if q.SkipClarification || o.stages.Gate == nil {
		return false
	}

	var decision *clarificationgate.Output
	o.stage(ctx, &out.Trace, models.StateClarifyCheck, func(ctx context.Context) {
		res, err := o.stages.Gate.Execute(ctx, &clarificationgate.Input{
			Question:   q.Text,
			League:     q.League,
			CustomData: q.CustomData,
			History:    history,
		})
		if err != nil {
			log.Warn("clarification gate failed, proceeding", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		decision = res
	})
	if decision == nil {
		return false
	}

	switch decision.Type {
	case clarificationgate.DecisionAnswer:
		out.Trace = append(out.Trace, models.StateAnswered)
		out.Outcome = models.OutcomeAnswered
		out.Payload = models.NewResponsePayload(decision.Text, nil, nil)
		return true
	case clarificationgate.DecisionClarify:
		out.Trace = append(out.Trace, models.StateClarificationRequested)
		out.Outcome = models.OutcomeClarification
		out.Clarification = decision.Text
		return true
	}
	return false
}

func (o *Orchestrator) gather(ctx context.Context, q models.Question, history models.History, log Logger) *branches {
	b := &branches{livePlan: models.NoLiveData()}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.liveBranch(ctx, q, history, b, log)
	}()
	go func() {
		defer wg.Done()
		o.queryBranch(ctx, q, history, b, log)
	}()
	if o.config.WebSearch && o.stages.WebSearch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.webBranch(ctx, q, b, log)
		}()
	}
	wg.Wait()
	return b
}

func (o *Orchestrator) liveBranch(ctx context.Context, q models.Question, history models.History, b *branches, log Logger) {
	o.stage(ctx, &b.liveTrail, models.StateLivePlan, func(ctx context.Context) {
		if o.stages.LivePlanner == nil {
			return
		}
		res, err := o.stages.LivePlanner.Execute(ctx, &planlivedata.Input{
			Question:   q.Text,
			League:     q.League,
			CustomData: q.CustomData,
			History:    history,
		})
		if err != nil {
			log.Warn("live data planning failed, skipping live data", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		b.livePlan = res.Plan
	})

	o.stage(ctx, &b.liveTrail, models.StateLiveFetch, func(ctx context.Context) {
		if !b.livePlan.NeedsLiveData || o.stages.LiveFetcher == nil {
			return
		}
		res, err := o.stages.LiveFetcher.Execute(ctx, &fetchlivedata.Input{
			Plan:   b.livePlan,
			League: q.League,
		})
		if err != nil {
			log.Warn("live data fetch failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		for _, source := range res.Sources {
			metrics.LiveFetchCalls.WithLabelValues(source.Label, string(source.Status)).Inc()
		}
		b.live = res
	})
}

func (o *Orchestrator) webBranch(ctx context.Context, q models.Question, b *branches, log Logger) {
	o.stage(ctx, &b.webTrail, models.StateWebSearch, func(ctx context.Context) {
		res, err := o.stages.WebSearch.Execute(ctx, &enrichwebsearch.Input{
			Question: q.Text,
			League:   q.League,
		})
		if err != nil {
			log.Warn("web search failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		b.web = res
	})
}

func (o *Orchestrator) queryBranch(ctx context.Context, q models.Question, history models.History, b *branches, log Logger) {
	o.stage(ctx, &b.queryTrail, models.StateQueryPlan, func(ctx context.Context) {
		res, err := o.stages.QueryPlanner.Execute(ctx, &planhistoricalquery.Input{
			Question:   q.Text,
			League:     q.League,
			Mode:       q.Mode,
			CustomData: q.CustomData,
			History:    history,
		})
		if err != nil {
			log.Warn("historical query planning failed", map[string]interface{}{
				"error": err.Error(),
			})
			b.planErr = err
			return
		}
		b.plan = res
	})
	if b.plan == nil {
		return
	}

	o.stage(ctx, &b.queryTrail, models.StateQueryExecValidate, func(ctx context.Context) {
		res, err := o.stages.Executor.Execute(ctx, &executehistoricalquery.Input{
			Question:   q.Text,
			League:     q.League,
			Mode:       q.Mode,
			CustomData: q.CustomData,
			History:    history,
			Plan:       b.plan.Plan,
			Examples:   b.plan.Examples,
		})
		if err != nil {
			log.Warn("historical query execution failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		for _, attempt := range res.Attempts {
			metrics.HistoricalQueryExecutions.WithLabelValues(string(attempt.Status)).Inc()
		}
		b.exec = res
	})
}

// merge copies branch results onto the outcome and records a historical
// failure that leaves the turn answerable from other sources.
func (o *Orchestrator) merge(b *branches, out *models.TurnOutcome) {
	if b.live != nil && len(b.live.Results) > 0 {
		out.LiveData = b.live.Results
	}
	if b.web != nil && len(b.web.Results) > 0 {
		out.WebResults = b.web.Results
	}

	switch {
	case b.planErr != nil:
		out.Error = partialError(string(errs.ErrCodeQueryPlanFailed), b.planErr.Error())
	case b.exec != nil:
		plan := b.exec.Plan
		out.QueryPlan = &plan
		out.QueryResult = b.exec.QueryResult
		out.Verdict = b.exec.Verdict
		out.Executions = b.exec.Executions
		if b.exec.QueryResult == nil && b.exec.ErrorCode != "" {
			out.Error = partialError(b.exec.ErrorCode, b.exec.ErrorMessage)
		}
	case b.plan != nil:
		plan := b.plan.Plan
		out.QueryPlan = &plan
	}
}

// unanswerable turns a fatal historical failure into the fallback payload
// when no live or web data can stand in for it.
func (o *Orchestrator) unanswerable(out *models.TurnOutcome) bool {
	if out.Error == nil || len(out.LiveData) > 0 || len(out.WebResults) > 0 {
		return false
	}
	if errs.KindOf(errs.ErrorCode(out.Error.Code)) != errs.KindFatal {
		return false
	}
	o.fail(out, out.Error.Code, out.Error.Message)
	return true
}

func (o *Orchestrator) synthesize(ctx context.Context, q models.Question, history models.History, out *models.TurnOutcome, log Logger) {
	o.stage(ctx, &out.Trace, models.StateSynthesize, func(ctx context.Context) {
		input := &synthesizeresponse.Input{
			Question:    q.Text,
			League:      q.League,
			Mode:        q.Mode,
			CustomData:  q.CustomData,
			History:     history,
			QueryResult: out.QueryResult,
			LiveData:    out.LiveData,
			WebResults:  out.WebResults,
			FromHistory: out.QueryPlan != nil && out.QueryPlan.Kind == models.PlanNoQueryNeeded,
		}
		res, err := o.stages.Synthesizer.Execute(ctx, input)
		if err != nil {
			log.Error("synthesis failed", map[string]interface{}{
				"error": err.Error(),
			})
			o.fail(out, synthesisErrorCode(err), err.Error())
			return
		}
		out.Outcome = models.OutcomeResponse
		out.Payload = res.Payload
	})
}

func (o *Orchestrator) fail(out *models.TurnOutcome, code, message string) {
	out.Outcome = models.OutcomeError
	out.Payload = models.NewResponsePayload(FallbackMessage, nil, nil)
	out.Error = &models.TurnError{
		Kind:    string(errs.KindFatal),
		Code:    code,
		Message: message,
	}
}

// finish moves the turn to DONE and writes the conversation log. A turn whose
// context is already cancelled never reaches DONE and is not logged.
func (o *Orchestrator) finish(ctx context.Context, q models.Question, out *models.TurnOutcome, start time.Time, log Logger) *models.TurnOutcome {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("outcome", string(out.Outcome)))
	if out.Fatal() {
		span.SetStatus(codes.Error, out.Error.Code)
	}

	if ctx.Err() != nil {
		log.Warn("turn abandoned before completion, conversation log not written", map[string]interface{}{
			"error": ctx.Err().Error(),
		})
	} else {
		out.Trace = append(out.Trace, models.StateDone)
		o.remember(ctx, q, out, log)
	}

	elapsed := time.Since(start)
	metrics.PipelineTurns.WithLabelValues(string(out.Outcome)).Inc()
	if o.recorder != nil {
		o.recorder.RecordTurn(ctx, string(out.Outcome), elapsed)
	}
	log.Info("turn finished", map[string]interface{}{
		"outcome":    string(out.Outcome),
		"executions": out.Executions,
		"durationMs": elapsed.Milliseconds(),
	})
	return out
}

func (o *Orchestrator) remember(ctx context.Context, q models.Question, out *models.TurnOutcome, log Logger) {
	if o.store == nil || q.SessionID == "" || out.Fatal() {
		return
	}

	turn := models.ConversationTurn{
		TurnID:      out.TurnID,
		UserMessage: q.Text,
		SQLQuery:    out.SQL(),
		CreatedAt:   o.config.now(),
	}
	switch {
	case out.Outcome == models.OutcomeClarification:
		turn.AssistantMessage = out.Clarification
	case out.Payload != nil:
		turn.AssistantMessage = out.Payload.Response
	}
	if out.QueryResult != nil {
		turn.Results = out.QueryResult.Results
	}

	if o.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.StoreTimeout)
		defer cancel()
	}
	if err := o.store.Append(ctx, q.SessionID, turn); err != nil {
		log.Warn("conversation log write failed", map[string]interface{}{
			"errorCode": string(errs.ErrCodeConversationStoreFailed),
			"error":     err.Error(),
		})
	}
}

// stage runs fn inside a span named after state, appends state to trail and
// records the stage duration.
func (o *Orchestrator) stage(ctx context.Context, trail *[]models.PipelineState, state models.PipelineState, fn func(context.Context)) {
	*trail = append(*trail, state)
	ctx, span := o.tracer.Start(ctx, "pipeline."+strings.ToLower(string(state)))
	defer span.End()

	start := time.Now()
	fn(ctx)
	metrics.PipelineStageDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
}

// partialError records a historical failure the turn can still be answered
// around. unanswerable upgrades it when nothing else is left.
func partialError(code, message string) *models.TurnError {
	return &models.TurnError{Kind: string(errs.KindFailPartial), Code: code, Message: message}
}

func synthesisErrorCode(err error) string {
	if errors.Is(err, synthesizeresponse.ErrLLMTimeout) {
		return string(errs.ErrCodeLLMTimeout)
	}
	return string(errs.ErrCodeSynthesisFailed)
}
