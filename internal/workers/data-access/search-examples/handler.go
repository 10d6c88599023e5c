package searchexamples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/elastic/go-elasticsearch/v8"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/common/validation"
	"blitz-workers/internal/models"
	"blitz-workers/internal/workers/data-access/search-examples/queries"
)

const (
	TaskType = "search-examples"
)

var (
	ErrSimilaritySearchFailed = errors.New("SIMILARITY_SEARCH_FAILED")
	ErrSearchTimeout          = errors.New("SEARCH_TIMEOUT")
	ErrInvalidInput           = errors.New("INVALID_INPUT")
)

const rerankPrompt = `You rank previously answered %s questions by how useful their SQL would be as a template
for a new question. Consider the statistic asked for, the granularity (game, season, career) and the filters.

Respond with a JSON object: {"ids": [string]} listing candidate ids from most to least useful.
Leave out candidates that would not help.`

type Handler struct {
	config *Config
	client *elasticsearch.Client
	llm    llm.Completer
	logger logger.Logger
}

// NewHandler builds the example search. completer may be nil, which keeps
// the index order.
func NewHandler(config *Config, client *elasticsearch.Client, completer llm.Completer, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		client: client,
		llm:    completer,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, "PARSE_ERROR", fmt.Sprintf("parse input: %v", err), 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(client, job, h.mapErrorToCode(err), err.Error(), h.getRetryCount(err))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || strings.TrimSpace(input.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	topK := input.TopK
	if topK <= 0 {
		topK = h.config.TopK
	}
	size := h.config.Candidates
	if size < topK {
		size = topK
	}

	result, err := queries.Search(ctx, h.client, queries.ExampleQuery{
		Index:    h.config.Index,
		Question: input.Question,
		League:   string(input.League),
		Size:     size,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrSearchTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrSimilaritySearchFailed, err)
	}

	examples := make([]models.Example, 0, len(result.Hits))
	for _, hit := range result.Hits {
		examples = append(examples, models.Example{
			ID:       hit.ID,
			Question: hit.Question,
			SQL:      hit.SQL,
			League:   models.League(hit.League),
			Score:    hit.Score,
		})
	}

	output := &Output{TotalHits: result.TotalHits, Took: result.Took}
	if len(examples) > 1 && h.config.Rerank && h.llm != nil {
		if ranked, ok := h.rerank(ctx, input, examples); ok {
			examples = ranked
			output.Reranked = true
		}
	}
	if len(examples) > topK {
		examples = examples[:topK]
	}
	output.Examples = examples

	h.logger.Debug("similar examples found", map[string]interface{}{
		"league":    string(input.League),
		"totalHits": result.TotalHits,
		"returned":  len(examples),
		"reranked":  output.Reranked,
	})
	return output, nil
}

// rerank orders candidates by the model's preference. Candidates the model
// leaves out keep their index order after the ranked ones.
func (h *Handler) rerank(ctx context.Context, input *Input, candidates []models.Example) ([]models.Example, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "New question: %s\n\nCandidates:\n", strings.TrimSpace(input.Question))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id: %s\n  question: %s\n  sql: %s\n", c.ID, c.Question, c.SQL)
	}

	reply, err := h.llm.Complete(ctx, llm.Request{
		Purpose:   "rerank",
		System:    fmt.Sprintf(rerankPrompt, strings.ToUpper(string(input.League))),
		User:      b.String(),
		ForceJSON: true,
	})
	if err != nil {
		h.logger.Warn("re-rank unavailable, keeping index order", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	raw := llm.ExtractJSON(reply)
	if result := validation.RerankSchema.ValidateJSON([]byte(raw)); !result.Valid {
		h.logger.Warn("unusable re-rank reply, keeping index order", map[string]interface{}{
			"error": result.Error(),
		})
		return nil, false
	}
	var decoded struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false
	}

	byID := make(map[string]models.Example, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	ranked := make([]models.Example, 0, len(candidates))
	used := make(map[string]bool, len(candidates))
	for _, id := range decoded.IDs {
		if c, ok := byID[id]; ok && !used[id] {
			ranked = append(ranked, c)
			used[id] = true
		}
	}
	if len(ranked) == 0 {
		return nil, false
	}
	for _, c := range candidates {
		if !used[c.ID] {
			ranked = append(ranked, c)
		}
	}
	return ranked, true
}

// Search serves the historical query planner. Errors are wrapped with
// ErrSimilaritySearchFailed.
func (h *Handler) Search(ctx context.Context, question string, league models.League, topK int) ([]models.Example, error) {
	output, err := h.execute(ctx, &Input{Question: question, League: league, TopK: topK})
	if err != nil {
		if errors.Is(err, ErrSimilaritySearchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSimilaritySearchFailed, err)
	}
	return output.Examples, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, errorCode, errorMessage string, retries int32) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":       job.Key,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
		"retries":      retries,
	})

	if retries > 0 && job.Retries > 1 {
		_, err := client.NewFailJobCommand().
			JobKey(job.Key).
			Retries(job.Retries - 1).
			ErrorMessage(errorCode + ": " + errorMessage).
			Send(context.Background())
		if err != nil {
			h.logger.Error("failed to fail job", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) mapErrorToCode(err error) string {
	if errors.Is(err, ErrSearchTimeout) {
		return "SEARCH_TIMEOUT"
	} else if errors.Is(err, ErrSimilaritySearchFailed) {
		return "SIMILARITY_SEARCH_FAILED"
	} else if errors.Is(err, ErrInvalidInput) {
		return "INVALID_INPUT"
	}
	return "UNKNOWN_ERROR"
}

func (h *Handler) getRetryCount(err error) int32 {
	if errors.Is(err, ErrSimilaritySearchFailed) {
		return 3
	} else if errors.Is(err, ErrSearchTimeout) {
		return 2
	}
	return 0
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
