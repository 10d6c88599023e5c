package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"blitz-workers/internal/api"
	commonhttp "blitz-workers/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Examples file
// ==========================

func TestParseExamples(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		input          string
		expectError    bool
		validateOutput func(t *testing.T, docs map[string]interface{})
	}{
		{
			name: "valid pairs",
			input: `[
				{"question": " Who led the AL in home runs? ", "sql": "SELECT 1", "league": "MLB"},
				{"question": "Best 3pt shooter", "sql": "SELECT 2", "league": "nba"}
			]`,
			validateOutput: func(t *testing.T, docs map[string]interface{}) {
				require.Len(t, docs, 2)
				id := exampleID(exampleRecord{Question: "Who led the AL in home runs?", League: "mlb"})
				doc, ok := docs[id].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "Who led the AL in home runs?", doc["question"])
				assert.Equal(t, "mlb", doc["league"])
				assert.Equal(t, "2026-04-02T12:00:00Z", doc["created_at"])
			},
		},
		{
			name:  "duplicate questions collapse",
			input: `[{"question": "Q", "sql": "A", "league": "mlb"}, {"question": "q", "sql": "B", "league": "mlb"}]`,
			validateOutput: func(t *testing.T, docs map[string]interface{}) {
				assert.Len(t, docs, 1)
			},
		},
		{name: "not an array", input: `{"question": "Q"}`, expectError: true},
		{name: "missing sql", input: `[{"question": "Q", "league": "mlb"}]`, expectError: true},
		{name: "unknown league", input: `[{"question": "Q", "sql": "A", "league": "nfl"}]`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := parseExamples([]byte(tt.input), now)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validateOutput != nil {
				tt.validateOutput(t, docs)
			}
		})
	}
}

func TestExampleID_StableAcrossCase(t *testing.T) {
	a := exampleID(exampleRecord{Question: "Who won?", League: "nba"})
	b := exampleID(exampleRecord{Question: "WHO WON?", League: "nba"})
	c := exampleID(exampleRecord{Question: "Who won?", League: "mlb"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// ==========================
// Ask
// ==========================

func TestAskEndpoint(t *testing.T) {
	assert.Equal(t, "http://x/generate-insights", askEndpoint("http://x/", api.InsightRequest{}))
	assert.Equal(t, "http://x/conversation", askEndpoint("http://x", api.InsightRequest{ConversationID: "c1"}))
}

func TestBuildAskRequest(t *testing.T) {
	saved := askOpts
	defer func() { askOpts = saved }()

	askOpts.league = "nba"
	askOpts.customData = "team page: Celtics"
	req, err := buildAskRequest("  who scored most?  ")
	require.NoError(t, err)
	assert.Equal(t, "who scored most?", req.Question)
	assert.JSONEq(t, `"team page: Celtics"`, string(req.CustomData))

	askOpts.customData = `{"team": "BOS"}`
	req, err = buildAskRequest("q")
	require.NoError(t, err)
	assert.JSONEq(t, `{"team": "BOS"}`, string(req.CustomData))

	askOpts.league = "nfl"
	_, err = buildAskRequest("q")
	assert.Error(t, err)
}

func TestDescribeAPIError(t *testing.T) {
	body, _ := json.Marshal(api.ErrorResponse{Error: api.ErrorBody{Code: "INVALID_API_KEY", Message: "bad key"}})
	assert.Equal(t, "401 INVALID_API_KEY: bad key", describeAPIError(&commonhttp.StatusError{StatusCode: 401, Body: string(body)}))
	assert.Contains(t, describeAPIError(&commonhttp.StatusError{StatusCode: 502, Body: "gateway"}), "502")
}

func TestPrintAnswer(t *testing.T) {
	explanation := "From season totals."
	raw, _ := json.Marshal(api.InsightResponse{
		CallID:      "call-1",
		Response:    "Judge leads with 58.",
		Explanation: &explanation,
		SQLQuery:    "SELECT 1",
	})

	var buf bytes.Buffer
	require.NoError(t, printAnswer(&buf, raw, false))
	out := buf.String()
	assert.Contains(t, out, "Judge leads with 58.")
	assert.Contains(t, out, "From season totals.")
	assert.Contains(t, out, "SQL: SELECT 1")
	assert.Contains(t, out, "call id: call-1")

	buf.Reset()
	clarify, _ := json.Marshal(api.ClarifyResponse{CallID: "call-2", Clarify: "Which season?"})
	require.NoError(t, printAnswer(&buf, clarify, false))
	assert.Equal(t, "? Which season?\n", buf.String())

	buf.Reset()
	require.NoError(t, printAnswer(&buf, raw, true))
	assert.JSONEq(t, string(raw), buf.String())
}
