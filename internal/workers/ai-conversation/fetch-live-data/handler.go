package fetchlivedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"blitz-workers/internal/models"
	"blitz-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"golang.org/x/sync/errgroup"
)

const (
	TaskType = "fetch-live-data"
)

var (
	ErrLiveFetchFailed = errors.New("LIVE_FETCH_FAILED")
	ErrUnknownEndpoint = errors.New("UNKNOWN_ENDPOINT")
	ErrMissingParams   = errors.New("MISSING_PARAMS")
)

const bettingGroupFirst, bettingGroupLast = 1000, 1009

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Handler executes a live-data plan against the REST catalog. Individual
// call failures are logged and omitted; Execute never returns an error.
type Handler struct {
	config   *Config
	catalog  *registry.Catalog
	fetcher  Fetcher
	resolver *Resolver
	logger   Logger
}

func NewHandler(config *Config, catalog *registry.Catalog, fetcher Fetcher, log Logger) *Handler {
	return &Handler{
		config:   config,
		catalog:  catalog,
		fetcher:  fetcher,
		resolver: NewResolver(fetcher, catalog, config.SportsDataKey, config.SnapshotTTL),
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

type callResult struct {
	label    string
	endpoint string
	data     interface{}
	err      error
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	output := &Output{Results: map[string]interface{}{}, Sources: []Source{}}
	plan := input.Plan
	if !plan.NeedsLiveData || len(plan.Calls) == 0 {
		return output, nil
	}

	league := string(input.League)
	results := make([]callResult, len(plan.Calls))

	limit := h.config.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, call := range plan.Calls {
		g.Go(func() error {
			results[i] = h.fetchCall(ctx, league, call, plan)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		source := Source{Label: r.label, Endpoint: r.endpoint}
		switch {
		case errors.Is(r.err, ErrUnknownEndpoint), errors.Is(r.err, ErrNotResolved), errors.Is(r.err, ErrMissingParams):
			source.Status = SourceSkipped
			source.Error = r.err.Error()
		case r.err != nil:
			source.Status = SourceFailed
			source.Error = r.err.Error()
		default:
			source.Label = uniqueLabel(output.Results, r.label)
			output.Results[source.Label] = r.data
			source.Status = SourceOK
			if isEmptyPayload(r.data) {
				source.Status = SourceEmpty
			}
		}
		if r.err != nil {
			h.logger.Warn("live data call omitted", map[string]interface{}{
				"endpoint": source.Endpoint,
				"status":   string(source.Status),
				"error":    r.err.Error(),
			})
		}
		output.Sources = append(output.Sources, source)
	}

	h.logger.Info("live data fetched", map[string]interface{}{
		"calls":   len(plan.Calls),
		"results": len(output.Results),
	})
	return output, nil
}

func (h *Handler) fetchCall(ctx context.Context, league string, call models.LiveCall, plan models.LiveDataPlan) callResult {
	ep, ok := h.catalog.Lookup(league, call.Endpoint)
	if !ok {
		return callResult{label: registry.Label(call.Endpoint), endpoint: call.Endpoint,
			err: fmt.Errorf("%w: %s", ErrUnknownEndpoint, call.Endpoint)}
	}
	result := callResult{label: ep.Label(), endpoint: ep.Template}

	params := make(map[string]string, len(call.Params))
	for k := range call.Params {
		params[k] = call.Param(k)
	}
	constraints := plan.Constraints
	constraints.Filters = append([]map[string]interface{}{}, plan.Constraints.Filters...)

	var data interface{}
	var err error
	switch {
	case ep.IsTrend():
		data, err = h.fetchTrend(ctx, league, ep, params)
	case ep.IsBettingMarkets():
		data, err = h.fetchBettingMarkets(ctx, league, ep, params, &constraints)
	default:
		data, err = h.fetchOne(ctx, ep, params)
	}
	if err != nil {
		result.err = err
		return result
	}

	rows, isList := data.([]interface{})
	if isList {
		if ep.IsFullSeasonBaker() {
			rows = camelizeKeys(rows)
		}
		rows = applyConstraints(rows, constraints, !ep.IsBettingMarkets())
		if len(plan.Keys) > 0 && !ep.IsTrend() && !ep.IsBettingMarkets() {
			rows = project(rows, plan.Keys)
		}
		data = rows
	}
	result.data = data
	return result
}

func (h *Handler) fetchOne(ctx context.Context, ep registry.Endpoint, params map[string]string) (interface{}, error) {
	target, missing := ep.Expand(params)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}
	return h.get(ctx, ep.Family, withKey(target, h.config.keyFor(ep.Template)))
}

func (h *Handler) get(ctx context.Context, family, target string) (interface{}, error) {
	raw, err := h.fetcher.GetJSON(ctx, family, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLiveFetchFailed, err)
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLiveFetchFailed, err)
	}
	return data, nil
}

// fetchTrend walks back from today until a date returns data. Trend data is
// published with a delay, so today is often empty.
func (h *Handler) fetchTrend(ctx context.Context, league string, ep registry.Endpoint, params map[string]string) (interface{}, error) {
	if strings.Contains(ep.Template, "/players/") && param(params, "playerid") == "" {
		id, err := h.resolver.ResolvePlayerID(ctx, league, param(params, "player"))
		if err != nil {
			return nil, err
		}
		params["playerid"] = formatID(id)
	}

	days := h.config.TrendLookbackDays
	if days <= 0 {
		days = 3
	}
	today := h.config.now()

	var last interface{}
	var lastErr error
	succeeded := false
	for d := 0; d < days; d++ {
		params["date"] = today.AddDate(0, 0, -d).Format("2006-01-02")
		data, err := h.fetchOne(ctx, ep, params)
		if err != nil {
			if errors.Is(err, ErrMissingParams) {
				return nil, err
			}
			lastErr = err
			continue
		}
		succeeded = true
		last = data
		if !isEmptyPayload(data) {
			return data, nil
		}
	}
	if !succeeded {
		return nil, lastErr
	}
	return last, nil
}

// fetchBettingMarkets merges the numbered market groups of one game. A player
// param narrows markets to that player's props.
func (h *Handler) fetchBettingMarkets(ctx context.Context, league string, ep registry.Endpoint, params map[string]string, constraints *models.Constraints) (interface{}, error) {
	gameID := param(params, "gameID")
	player := param(params, "player")

	if gameID == "" {
		date := param(params, "date")
		if date == "" {
			date = h.config.now().Format("2006-01-02")
		}
		id, err := h.resolver.ResolveGameID(ctx, league, date, param(params, "team"), player)
		if err != nil {
			return nil, err
		}
		gameID = formatID(id)
	}
	if player != "" {
		constraints.Filters = append(constraints.Filters, map[string]interface{}{"PlayerName": player})
	}

	base, missing := ep.Expand(map[string]string{"gameID": gameID})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}

	merger := newMarketMerger()
	var lastErr error
	fetched := 0
	for group := bettingGroupFirst; group <= bettingGroupLast; group++ {
		target := withKey(fmt.Sprintf("%s/G%d", base, group), h.config.keyFor(ep.Template))
		data, err := h.get(ctx, ep.Family, target)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fetched++
		if markets, ok := data.([]interface{}); ok {
			merger.add(markets)
		}
	}
	if fetched == 0 {
		return nil, lastErr
	}
	return filterMarkets(merger.result(), constraints.Filters), nil
}

// param reads a planner param by case-insensitive name.
func param(params map[string]string, name string) string {
	if v, ok := params[name]; ok {
		return v
	}
	for k, v := range params {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// uniqueLabel suffixes label when two calls share a citation tag.
func uniqueLabel(results map[string]interface{}, label string) string {
	if _, taken := results[label]; !taken {
		return label
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", label, n)
		if _, taken := results[candidate]; !taken {
			return candidate
		}
	}
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
