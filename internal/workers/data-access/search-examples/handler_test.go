package searchexamples

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"
	"blitz-workers/internal/workers/data-access/search-examples/queries"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Timeout:    5 * time.Second,
		Index:      "query_examples",
		Candidates: 10,
		TopK:       3,
		Rerank:     true,
	}
}

type fakeElasticsearch struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	paths    []string
	status   int
	response string
	delay    time.Duration
}

func (f *fakeElasticsearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = w.Write([]byte(f.response))
}

func newFakeElasticsearch(t *testing.T, fake *fakeElasticsearch) *elasticsearch.Client {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

const judgeHits = `{
  "took": 3,
  "hits": {
    "total": {"value": 4, "relation": "eq"},
    "max_score": 9.1,
    "hits": [
      {"_id": "ex-1", "_score": 9.1, "_source": {"question": "How many home runs did Judge hit in 2022?", "sql": "SELECT home_runs FROM mlb.player_season_stats WHERE player_name = 'Aaron Judge' AND season = 2022", "league": "mlb"}},
      {"_id": "ex-2", "_score": 7.4, "_source": {"question": "Ohtani home runs 2023", "sql": "SELECT home_runs FROM mlb.player_season_stats WHERE player_name = 'Shohei Ohtani' AND season = 2023", "league": "mlb"}},
      {"_id": "ex-3", "_score": 5.0, "_source": {"question": "Judge batting average by month", "sql": "SELECT month, avg FROM mlb.player_monthly_stats WHERE player_name = 'Aaron Judge'", "league": "mlb"}},
      {"_id": "ex-4", "_score": 2.2, "_source": {"question": "broken example", "sql": "", "league": "mlb"}}
    ]
  }
}`

type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
	Requests     []llm.Request
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.Requests = append(m.Requests, req)
	return m.CompleteFunc(ctx, req)
}

func replyWith(reply string) *MockCompleter {
	return &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		return reply, nil
	}}
}

func ids(examples []models.Example) []string {
	out := make([]string, len(examples))
	for i, e := range examples {
		out[i] = e.ID
	}
	return out
}

// ==========================
// Search Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name           string
		completer      *MockCompleter
		input          *Input
		validateOutput func(t *testing.T, output *Output, mock *MockCompleter)
	}{
		{
			name:      "index order without re-rank",
			completer: nil,
			input:     &Input{Question: "Judge home runs 2022", League: models.LeagueMLB},
			validateOutput: func(t *testing.T, output *Output, mock *MockCompleter) {
				assert.Equal(t, []string{"ex-1", "ex-2", "ex-3"}, ids(output.Examples))
				assert.False(t, output.Reranked)
				assert.Equal(t, int64(4), output.TotalHits)
				assert.Equal(t, models.LeagueMLB, output.Examples[0].League)
				assert.InDelta(t, 9.1, output.Examples[0].Score, 0.001)
			},
		},
		{
			name:      "re-rank reorders and fills from index order",
			completer: replyWith(`{"ids": ["ex-3", "ex-1"]}`),
			input:     &Input{Question: "Judge home runs 2022", League: models.LeagueMLB},
			validateOutput: func(t *testing.T, output *Output, mock *MockCompleter) {
				assert.Equal(t, []string{"ex-3", "ex-1", "ex-2"}, ids(output.Examples))
				assert.True(t, output.Reranked)
				require.Len(t, mock.Requests, 1)
				assert.Equal(t, "rerank", mock.Requests[0].Purpose)
				assert.True(t, mock.Requests[0].ForceJSON)
				assert.Contains(t, mock.Requests[0].User, "id: ex-2")
			},
		},
		{
			name:      "unknown and duplicate ids ignored",
			completer: replyWith(`{"ids": ["ex-9", "ex-2", "ex-2"]}`),
			input:     &Input{Question: "Judge home runs 2022", League: models.LeagueMLB, TopK: 2},
			validateOutput: func(t *testing.T, output *Output, mock *MockCompleter) {
				assert.Equal(t, []string{"ex-2", "ex-1"}, ids(output.Examples))
			},
		},
		{
			name:      "unusable re-rank reply keeps index order",
			completer: replyWith(`best is ex-3`),
			input:     &Input{Question: "Judge home runs 2022", League: models.LeagueMLB},
			validateOutput: func(t *testing.T, output *Output, mock *MockCompleter) {
				assert.Equal(t, []string{"ex-1", "ex-2", "ex-3"}, ids(output.Examples))
				assert.False(t, output.Reranked)
			},
		},
		{
			name: "re-rank failure keeps index order",
			completer: &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
				return "", llm.ErrLLMTimeout
			}},
			input: &Input{Question: "Judge home runs 2022", League: models.LeagueMLB},
			validateOutput: func(t *testing.T, output *Output, mock *MockCompleter) {
				assert.Equal(t, []string{"ex-1", "ex-2", "ex-3"}, ids(output.Examples))
				assert.False(t, output.Reranked)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeElasticsearch{response: judgeHits}
			var completer llm.Completer
			if tt.completer != nil {
				completer = tt.completer
			}
			handler := NewHandler(createTestConfig(), newFakeElasticsearch(t, fake), completer, logger.NewTestLogger(t))

			output, err := handler.Execute(context.Background(), tt.input)

			require.NoError(t, err)
			tt.validateOutput(t, output, tt.completer)
		})
	}
}

func TestHandler_QueryShape(t *testing.T) {
	fake := &fakeElasticsearch{response: judgeHits}
	handler := NewHandler(createTestConfig(), newFakeElasticsearch(t, fake), nil, logger.NewTestLogger(t))

	_, err := handler.Execute(context.Background(), &Input{Question: "  Curry threes 2016 ", League: models.LeagueNBA})
	require.NoError(t, err)

	require.Len(t, fake.paths, 1)
	assert.Equal(t, "/query_examples/_search", fake.paths[0])

	body, err := json.Marshal(fake.bodies[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"multi_match"`)
	assert.Contains(t, string(body), `"query":"Curry threes 2016"`)
	assert.Contains(t, string(body), `"term":{"league":"nba"}`)
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeElasticsearch
		input   *Input
		wantErr error
	}{
		{
			name:    "empty question",
			fake:    &fakeElasticsearch{response: judgeHits},
			input:   &Input{Question: "   ", League: models.LeagueMLB},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing index",
			fake:    &fakeElasticsearch{status: http.StatusNotFound, response: `{"error":{"type":"index_not_found_exception"},"status":404}`},
			input:   &Input{Question: "Judge", League: models.LeagueMLB},
			wantErr: ErrSimilaritySearchFailed,
		},
		{
			name:    "malformed response",
			fake:    &fakeElasticsearch{response: `{"hits": [`},
			input:   &Input{Question: "Judge", League: models.LeagueMLB},
			wantErr: ErrSimilaritySearchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(createTestConfig(), newFakeElasticsearch(t, tt.fake), nil, logger.NewTestLogger(t))

			output, err := handler.Execute(context.Background(), tt.input)

			assert.Nil(t, output)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHandler_Timeout(t *testing.T) {
	fake := &fakeElasticsearch{response: judgeHits, delay: 200 * time.Millisecond}
	handler := NewHandler(createTestConfig(), newFakeElasticsearch(t, fake), nil, logger.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := handler.Execute(ctx, &Input{Question: "Judge", League: models.LeagueMLB})

	assert.ErrorIs(t, err, ErrSearchTimeout)
}

func TestHandler_SearchWrapsErrors(t *testing.T) {
	handler := NewHandler(createTestConfig(), newFakeElasticsearch(t, &fakeElasticsearch{response: judgeHits}), nil, logger.NewTestLogger(t))

	examples, err := handler.Search(context.Background(), "Judge home runs", models.LeagueMLB, 2)
	require.NoError(t, err)
	assert.Len(t, examples, 2)

	_, err = handler.Search(context.Background(), "", models.LeagueMLB, 2)
	assert.True(t, errors.Is(err, ErrSimilaritySearchFailed))
}

func TestHandler_ErrorMapping(t *testing.T) {
	handler := NewHandler(createTestConfig(), nil, nil, logger.NewNoOpLogger())

	assert.Equal(t, "SEARCH_TIMEOUT", handler.mapErrorToCode(ErrSearchTimeout))
	assert.Equal(t, "SIMILARITY_SEARCH_FAILED", handler.mapErrorToCode(ErrSimilaritySearchFailed))
	assert.Equal(t, "INVALID_INPUT", handler.mapErrorToCode(ErrInvalidInput))
	assert.Equal(t, "UNKNOWN_ERROR", handler.mapErrorToCode(errors.New("other")))
	assert.Equal(t, int32(3), handler.getRetryCount(ErrSimilaritySearchFailed))
	assert.Equal(t, int32(0), handler.getRetryCount(ErrInvalidInput))
}

// ==========================
// Query Builder Tests
// ==========================

func TestBuildExampleQuery(t *testing.T) {
	_, err := queries.BuildExampleQuery(queries.ExampleQuery{Question: "Judge"})
	assert.ErrorIs(t, err, queries.ErrMissingIndex)

	_, err = queries.BuildExampleQuery(queries.ExampleQuery{Index: "query_examples", Question: " "})
	assert.ErrorIs(t, err, queries.ErrEmptyQuestion)

	req, err := queries.BuildExampleQuery(queries.ExampleQuery{Index: "query_examples", Question: "Judge"})
	require.NoError(t, err)
	require.NotNil(t, req.Size)
	assert.Equal(t, 10, *req.Size)

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "filter")
	assert.True(t, strings.Contains(string(raw), `"question^3"`))
}
