package enrichwebsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"blitz-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "enrich-web-search"
)

var (
	ErrWebSearchTimeout = errors.New("WEB_SEARCH_TIMEOUT")
	ErrWebSearchFailed  = errors.New("WEB_SEARCH_FAILED")
)

var whitespace = regexp.MustCompile(`\s+`)

// trustedSources rank above generic results.
var trustedSources = []string{
	"mlb.com", "nba.com", "espn.com", "baseball-reference.com", "basketball-reference.com",
	"fangraphs.com", "cbssports.com", "theathletic.com", "apnews.com",
}

var leagueTerms = map[models.League]string{
	models.LeagueMLB: "MLB",
	models.LeagueNBA: "NBA",
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config *Config
	client *http.Client
	logger Logger
}

func NewHandler(config *Config, log Logger) *Handler {
	return &Handler{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
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

// execute never fails: a timeout or API error yields empty results.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	query := buildQuery(input.Question, input.League)
	output := &Output{Query: query, Results: []models.WebResult{}}
	if query == "" {
		return output, nil
	}

	results, err := h.search(ctx, query)
	if err != nil {
		output.TimedOut = errors.Is(err, ErrWebSearchTimeout)
		h.logger.Warn("web search failed, returning empty results", map[string]interface{}{
			"error":    err.Error(),
			"timedOut": output.TimedOut,
		})
		return output, nil
	}

	h.enrichSnippets(ctx, results)
	output.Results = results

	h.logger.Info("web search completed", map[string]interface{}{
		"query":       query,
		"resultCount": len(results),
	})
	return output, nil
}

func buildQuery(question string, league models.League) string {
	query := whitespace.ReplaceAllString(strings.TrimSpace(question), " ")
	if query == "" {
		return ""
	}
	if term, ok := leagueTerms[league]; ok && !strings.Contains(strings.ToUpper(query), term) {
		query += " " + term
	}
	return query
}

func (h *Handler) buildSearchURL(query string) (string, error) {
	baseURL, err := url.Parse(h.config.SearchAPIBaseURL)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Add("engine", h.config.Engine)
	params.Add("q", query)
	params.Add("api_key", h.config.SearchAPIKey)
	params.Add("num", fmt.Sprintf("%d", h.config.MaxResults))
	baseURL.RawQuery = params.Encode()
	return baseURL.String(), nil
}

func (h *Handler) search(ctx context.Context, query string) ([]models.WebResult, error) {
	searchURL, err := h.buildSearchURL(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebSearchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebSearchFailed, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrWebSearchTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrWebSearchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search API returned %d", ErrWebSearchFailed, resp.StatusCode)
	}

	var apiResponse searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrWebSearchTimeout
		}
		return nil, fmt.Errorf("%w: decode response: %v", ErrWebSearchFailed, err)
	}
	if apiResponse.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrWebSearchFailed, apiResponse.Error)
	}

	return h.processResults(apiResponse.OrganicResults), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "timeout")
}

// processResults dedupes by URL, ranks trusted sports sources first and
// keeps at most MaxResults entries.
func (h *Handler) processResults(items []organicResult) []models.WebResult {
	seen := make(map[string]bool)
	scored := make([]scoredResult, 0, len(items))

	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true

		relevance := 1.0
		if host := hostOf(link); host != "" {
			for _, trusted := range trustedSources {
				if host == trusted || strings.HasSuffix(host, "."+trusted) {
					relevance += 0.3
					break
				}
			}
		}
		if relevance < h.config.MinRelevance {
			continue
		}

		scored = append(scored, scoredResult{
			WebResult: models.WebResult{
				Title:   strings.TrimSpace(item.Title),
				Snippet: strings.TrimSpace(item.Snippet),
				URL:     link,
				Source:  item.Source,
			},
			relevance: relevance,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].relevance > scored[j].relevance
	})

	if h.config.MaxResults > 0 && len(scored) > h.config.MaxResults {
		scored = scored[:h.config.MaxResults]
	}

	results := make([]models.WebResult, len(scored))
	for i, s := range scored {
		results[i] = s.WebResult
	}
	return results
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// enrichSnippets fills missing snippets of the top results from the pages
// themselves. Scrape failures leave the result unchanged.
func (h *Handler) enrichSnippets(ctx context.Context, results []models.WebResult) {
	scraped := 0
	for i := range results {
		if scraped >= h.config.ScrapeTop {
			return
		}
		if results[i].Snippet != "" {
			continue
		}
		scraped++

		title, summary, err := h.scrapeSummary(ctx, results[i].URL)
		if err != nil {
			h.logger.Warn("page scrape failed", map[string]interface{}{
				"url":   results[i].URL,
				"error": err.Error(),
			})
			continue
		}
		if results[i].Title == "" {
			results[i].Title = title
		}
		results[i].Snippet = summary
	}
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)

	if err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, sendErr := cmd.Send(context.Background()); sendErr != nil {
		h.logger.Error("Failed to send complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  sendErr.Error(),
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

// Execute runs the search in-process. The returned error is always nil.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
