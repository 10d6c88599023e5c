package fetchlivedata

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"blitz-workers/internal/models"
	"blitz-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t      *testing.T
	fields map[string]interface{}
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t, fields: make(map[string]interface{})}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v", msg, l.mergeFields(fields))
}

func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v", msg, l.mergeFields(fields))
}

func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v", msg, l.mergeFields(fields))
}

func (l *TestLogger) With(fields map[string]interface{}) Logger {
	return &TestLogger{t: l.t, fields: l.mergeFields(fields)}
}

func (l *TestLogger) mergeFields(fields map[string]interface{}) map[string]interface{} {
	allFields := make(map[string]interface{})
	for k, v := range l.fields {
		allFields[k] = v
	}
	for k, v := range fields {
		allFields[k] = v
	}
	return allFields
}

// ==========================
// Mock Implementations
// ==========================

// MockFetcher serves canned bodies keyed by URL path.
type MockFetcher struct {
	mu     sync.Mutex
	Routes map[string]string
	Calls  []string
}

func newMockFetcher(routes map[string]string) *MockFetcher {
	return &MockFetcher{Routes: routes}
}

func (m *MockFetcher) GetJSON(ctx context.Context, family, target string, headers map[string]string) (json.RawMessage, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, target)
	m.mu.Unlock()

	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	body, ok := m.Routes[u.Path]
	if !ok {
		return nil, errors.New("status 404: not found")
	}
	return json.RawMessage(body), nil
}

func (m *MockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockFetcher) calledPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		u, _ := url.Parse(c)
		paths = append(paths, u.Path)
	}
	return paths
}

// ==========================
// Test Helper Functions
// ==========================

const testCatalog = `
version: 1
leagues:
  mlb:
    endpoints:
      - name: PlayersByActive
        template: https://api.sportsdata.io/v3/mlb/scores/json/PlayersByActive
      - name: ScoresBasicFinal
        template: https://api.sportsdata.io/v3/mlb/scores/json/ScoresBasicFinal/{date}
      - name: Standings
        template: https://api.sportsdata.io/v3/mlb/scores/json/Standings/{season}
      - name: BettingMarketsByGameID
        template: https://api.sportsdata.io/v3/mlb/odds/json/BettingMarketsByGameID/{gameID}
        family: sportsdata-odds
      - name: BakerFullSeasonProjections
        template: https://baker-api.sportsdata.io/baker/v2/mlb/projections/players/full-season/{season_name}/avg
      - name: TeamTrends
        template: https://baker-api.sportsdata.io/baker/v2/mlb/trends/{date}/{team}
      - name: PlayerTrends
        template: https://baker-api.sportsdata.io/baker/v2/mlb/trends/{date}/players/{playerid}
`

const (
	rosterPath   = "/v3/mlb/scores/json/PlayersByActive"
	scoresPath   = "/v3/mlb/scores/json/ScoresBasicFinal/"
	marketsPath  = "/v3/mlb/odds/json/BettingMarketsByGameID/"
	trendsPath   = "/baker/v2/mlb/trends/"
	standingPath = "/v3/mlb/scores/json/Standings/2024"
)

const testRoster = `[
	{"PlayerID": 100, "FirstName": "Aaron", "LastName": "Judge", "Team": "NYY"},
	{"PlayerID": 200, "FirstName": "Rafael", "LastName": "Devers", "Team": "BOS"}
]`

func createTestConfig() *Config {
	return &Config{
		Timeout:           5 * time.Second,
		SportsDataKey:     "sd-key",
		BakerKey:          "baker-key",
		TrendLookbackDays: 3,
		MaxConcurrency:    4,
		SnapshotTTL:       time.Minute,
		Now: func() time.Time {
			return time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)
		},
	}
}

func createTestHandler(t *testing.T, fetcher Fetcher) *Handler {
	catalog, err := registry.Parse([]byte(testCatalog))
	require.NoError(t, err)
	return NewHandler(createTestConfig(), catalog, fetcher, NewTestLogger(t))
}

func livePlan(calls []models.LiveCall, keys []string, constraints models.Constraints) models.LiveDataPlan {
	plan := models.LiveDataPlan{NeedsLiveData: true, Calls: calls, Keys: keys, Constraints: constraints}
	plan.Normalize()
	return plan
}

func call(endpoint string, params map[string]interface{}) models.LiveCall {
	return models.LiveCall{Endpoint: endpoint, Params: params}
}

// ==========================
// Gating Tests
// ==========================

func TestHandler_Execute_NoLiveDataMakesNoRequests(t *testing.T) {
	tests := []struct {
		name string
		plan models.LiveDataPlan
	}{
		{name: "needs_live_data false", plan: models.NoLiveData()},
		{name: "needs_live_data true without calls", plan: livePlan(nil, nil, models.Constraints{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newMockFetcher(nil)
			handler := createTestHandler(t, fetcher)

			output, err := handler.Execute(context.Background(), &Input{Plan: tt.plan, League: models.LeagueMLB})

			assert.NoError(t, err)
			assert.Empty(t, output.Results)
			assert.False(t, output.HasData())
			assert.Equal(t, 0, fetcher.callCount())
		})
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_GenericConstraintsAndProjection(t *testing.T) {
	fetcher := newMockFetcher(map[string]string{
		standingPath: `[
			{"Team": "NYY", "League": "AL", "Wins": 50},
			{"Team": "LAD", "League": "NL", "Wins": 55},
			{"Team": "TOR", "League": "AL", "Wins": null},
			{"Team": "BAL", "League": "AL", "Wins": 45},
			{"Team": "BOS", "League": "AL", "Wins": 40}
		]`,
	})
	handler := createTestHandler(t, fetcher)

	plan := livePlan(
		[]models.LiveCall{call("Standings", map[string]interface{}{"season": float64(2024)})},
		[]string{"Team", "Wins"},
		models.Constraints{SortBy: "Wins", TopN: 3, Filters: []map[string]interface{}{{"League": "AL"}}},
	)
	output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
	require.NoError(t, err)

	rows, ok := output.Results[registry.LabelGeneric].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 3)
	assert.Equal(t, map[string]interface{}{"Team": "NYY", "Wins": float64(50)}, rows[0])
	assert.Equal(t, "BAL", rows[1].(map[string]interface{})["Team"])
	assert.Equal(t, "BOS", rows[2].(map[string]interface{})["Team"])
	assert.NotContains(t, rows[0], "League")

	require.Len(t, output.Sources, 1)
	assert.Equal(t, SourceOK, output.Sources[0].Status)
	assert.Contains(t, fetcher.Calls[0], "key=sd-key")
}

func TestHandler_Execute_TrendDateFallback(t *testing.T) {
	fetcher := newMockFetcher(map[string]string{
		trendsPath + "2024-06-15/NYY": `[]`,
		trendsPath + "2024-06-14/NYY": `{"Team": "NYY", "Streak": "W4"}`,
	})
	handler := createTestHandler(t, fetcher)

	plan := livePlan([]models.LiveCall{call("TeamTrends", map[string]interface{}{"team": "NYY", "date": "2030-01-01"})},
		[]string{"Team"}, models.Constraints{})
	output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"Team": "NYY", "Streak": "W4"}, output.Results[registry.LabelAI])
	assert.Equal(t, []string{trendsPath + "2024-06-15/NYY", trendsPath + "2024-06-14/NYY"}, fetcher.calledPaths())
	assert.Contains(t, fetcher.Calls[0], "key=baker-key")
}

func TestHandler_Execute_TrendAllDatesEmpty(t *testing.T) {
	fetcher := newMockFetcher(map[string]string{
		trendsPath + "2024-06-15/NYY": `[]`,
		trendsPath + "2024-06-14/NYY": `[]`,
		trendsPath + "2024-06-13/NYY": `[]`,
	})
	handler := createTestHandler(t, fetcher)

	plan := livePlan([]models.LiveCall{call("TeamTrends", map[string]interface{}{"team": "NYY"})}, nil, models.Constraints{})
	output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.callCount())
	assert.False(t, output.HasData())
	assert.Equal(t, SourceEmpty, output.Sources[0].Status)
}

func TestHandler_Execute_PlayerTrendResolution(t *testing.T) {
	t.Run("name resolved to id", func(t *testing.T) {
		fetcher := newMockFetcher(map[string]string{
			rosterPath:                           testRoster,
			trendsPath + "2024-06-15/players/100": `[{"PlayerID": 100, "Trend": "hot"}]`,
		})
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("PlayerTrends", map[string]interface{}{"player": "aaron  judge"})}, nil, models.Constraints{})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		assert.Len(t, output.Results[registry.LabelAI], 1)
		assert.Equal(t, []string{rosterPath, trendsPath + "2024-06-15/players/100"}, fetcher.calledPaths())
	})

	t.Run("unknown player skips the call", func(t *testing.T) {
		fetcher := newMockFetcher(map[string]string{rosterPath: testRoster})
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("PlayerTrends", map[string]interface{}{"player": "Nobody Known"})}, nil, models.Constraints{})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		assert.Empty(t, output.Results)
		assert.Equal(t, SourceSkipped, output.Sources[0].Status)
		assert.Equal(t, 1, fetcher.callCount())
	})
}

func TestHandler_Execute_BettingMarketsMergeAndFilter(t *testing.T) {
	routes := map[string]string{
		scoresPath + "2024-06-16": `[{"GameID": 777, "HomeTeam": "NYY", "AwayTeam": "BOS"}]`,
		marketsPath + "777/G1000": `[
			{"BettingMarketID": 1, "BettingMarketTypeID": 1,
			 "AvailableSportsbooks": [{"SportsbookID": 7}],
			 "BettingOutcomes": [{"BettingOutcomeID": 10, "BettingOutcomeTypeID": 1}, {"BettingOutcomeID": 11, "BettingOutcomeTypeID": 2}]},
			{"BettingMarketID": 2, "BettingMarketTypeID": 1, "BettingOutcomes": []}
		]`,
		marketsPath + "777/G1001": `[
			{"BettingMarketID": 1, "BettingMarketTypeID": 1,
			 "AvailableSportsbooks": [{"SportsbookID": 7}, {"SportsbookID": 8}],
			 "BettingOutcomes": [{"BettingOutcomeID": 11, "BettingOutcomeTypeID": 2}, {"BettingOutcomeID": 12, "BettingOutcomeTypeID": 1}]},
			{"BettingMarketID": 3, "BettingMarketTypeID": 2,
			 "BettingOutcomes": [{"BettingOutcomeID": 30, "BettingOutcomeTypeID": 1}]}
		]`,
	}

	t.Run("merged without filters", func(t *testing.T) {
		fetcher := newMockFetcher(routes)
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("BettingMarketsByGameID", map[string]interface{}{"date": "2024-06-16", "team": "nyy"})},
			[]string{"BettingMarketID"}, models.Constraints{})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		markets := output.Results[registry.LabelLive].([]interface{})
		require.Len(t, markets, 2)
		first := markets[0].(map[string]interface{})
		assert.Len(t, first["AvailableSportsbooks"], 2)
		assert.Len(t, first["BettingOutcomes"], 3)
		assert.Contains(t, first, "BettingMarketTypeID", "market payloads keep their full shape")
		assert.Equal(t, 11, fetcher.callCount())
	})

	t.Run("market and outcome filters apply independently", func(t *testing.T) {
		fetcher := newMockFetcher(routes)
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("BettingMarketsByGameID", map[string]interface{}{"gameID": float64(777)})}, nil,
			models.Constraints{Filters: []map[string]interface{}{{"BettingMarketTypeID": 1}, {"BettingOutcomeTypeID": "1"}}})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		markets := output.Results[registry.LabelLive].([]interface{})
		require.Len(t, markets, 1)
		outcomes := markets[0].(map[string]interface{})["BettingOutcomes"].([]interface{})
		require.Len(t, outcomes, 2)
		assert.Equal(t, float64(10), outcomes[0].(map[string]interface{})["BettingOutcomeID"])
		assert.Equal(t, float64(12), outcomes[1].(map[string]interface{})["BettingOutcomeID"])
		assert.Equal(t, 10, fetcher.callCount())
	})

	t.Run("player props resolve the player's game", func(t *testing.T) {
		playerRoutes := map[string]string{
			rosterPath:                testRoster,
			scoresPath + "2024-06-15": `[{"GameID": 555, "HomeTeam": "TOR", "AwayTeam": "NYY"}]`,
			marketsPath + "555/G1004": `[
				{"BettingMarketID": 9, "PlayerName": "Aaron Judge", "BettingOutcomes": [{"BettingOutcomeID": 90}]},
				{"BettingMarketID": 8, "PlayerName": "Bo Bichette", "BettingOutcomes": [{"BettingOutcomeID": 80}]}
			]`,
		}
		fetcher := newMockFetcher(playerRoutes)
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("BettingMarketsByGameID", map[string]interface{}{"player": "Aaron Judge"})}, nil, models.Constraints{})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		markets := output.Results[registry.LabelLive].([]interface{})
		require.Len(t, markets, 1)
		assert.Equal(t, "Aaron Judge", markets[0].(map[string]interface{})["PlayerName"])
		assert.Empty(t, plan.Constraints.Filters, "the caller's plan is not mutated")
	})

	t.Run("unresolvable game is omitted", func(t *testing.T) {
		fetcher := newMockFetcher(routes)
		handler := createTestHandler(t, fetcher)

		plan := livePlan([]models.LiveCall{call("BettingMarketsByGameID", map[string]interface{}{"date": "2024-06-16", "team": "SEA"})}, nil, models.Constraints{})
		output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
		require.NoError(t, err)

		assert.Empty(t, output.Results)
		assert.Equal(t, SourceSkipped, output.Sources[0].Status)
	})
}

func TestHandler_Execute_PartialFailureAndLabels(t *testing.T) {
	fetcher := newMockFetcher(map[string]string{
		rosterPath:                   testRoster,
		scoresPath + "2024-06-15":    `[{"GameID": 1}]`,
		"/baker/v2/mlb/projections/players/full-season/2024/avg": `[{"player_id": 100, "home_runs_avg": 41.5}]`,
	})
	handler := createTestHandler(t, fetcher)

	plan := livePlan([]models.LiveCall{
		call("PlayersByActive", nil),
		call("https://api.sportsdata.io/v3/mlb/scores/json/ScoresBasicFinal/{date}", map[string]interface{}{"date": "2024-06-15"}),
		call("Standings", map[string]interface{}{"season": "2024"}),
		call("BakerFullSeasonProjections", map[string]interface{}{"season_name": "2024"}),
		call("NotInCatalog", nil),
	}, nil, models.Constraints{})
	output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
	require.NoError(t, err)

	assert.Len(t, output.Results["Blitz Live"], 2)
	assert.Len(t, output.Results["Blitz Live (2)"], 1)
	assert.NotContains(t, output.Results, registry.LabelGeneric)
	assert.Equal(t, []interface{}{map[string]interface{}{"PlayerID": float64(100), "HomeRunsAvg": 41.5}}, output.Results[registry.LabelAI])

	statuses := make([]SourceStatus, len(output.Sources))
	for i, s := range output.Sources {
		statuses[i] = s.Status
	}
	assert.Equal(t, []SourceStatus{SourceOK, SourceOK, SourceFailed, SourceOK, SourceSkipped}, statuses)
	assert.True(t, output.HasData())
}

func TestHandler_Execute_MissingParamSkips(t *testing.T) {
	fetcher := newMockFetcher(nil)
	handler := createTestHandler(t, fetcher)

	plan := livePlan([]models.LiveCall{call("Standings", nil)}, nil, models.Constraints{})
	output, err := handler.Execute(context.Background(), &Input{Plan: plan, League: models.LeagueMLB})
	require.NoError(t, err)

	assert.Equal(t, SourceSkipped, output.Sources[0].Status)
	assert.True(t, strings.Contains(output.Sources[0].Error, "season"))
	assert.Equal(t, 0, fetcher.callCount())
}

// ==========================
// Resolver Tests
// ==========================

func TestResolver_CachesRoster(t *testing.T) {
	fetcher := newMockFetcher(map[string]string{rosterPath: testRoster})
	catalog, err := registry.Parse([]byte(testCatalog))
	require.NoError(t, err)
	resolver := NewResolver(fetcher, catalog, "k", time.Minute)

	id, err := resolver.ResolvePlayerID(context.Background(), "mlb", "Rafael Devers")
	require.NoError(t, err)
	assert.Equal(t, int64(200), id)

	team, err := resolver.ResolveTeamForPlayer(context.Background(), "mlb", id)
	require.NoError(t, err)
	assert.Equal(t, "BOS", team)
	assert.Equal(t, 1, fetcher.callCount())

	_, err = resolver.ResolvePlayerID(context.Background(), "mlb", "")
	assert.True(t, errors.Is(err, ErrNotResolved))

	_, err = resolver.ResolveGameID(context.Background(), "nba", "2024-06-15", "LAL", "")
	assert.True(t, errors.Is(err, ErrNotResolved))
}
