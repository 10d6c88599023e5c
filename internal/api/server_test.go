package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"blitz-workers/internal/common/auth"
	"blitz-workers/internal/common/database"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"
	partnerrecords "blitz-workers/internal/workers/data-access/partner-records"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "key-acme"
	testPartner = "acme"
	judgeSQL    = "SELECT Name, HomeRuns FROM PlayerSeason WHERE Season = 2022 ORDER BY HomeRuns DESC LIMIT 1"
)

// ==========================
// Mock Implementations
// ==========================

type MockAnswerer struct {
	mu         sync.Mutex
	AnswerFunc func(ctx context.Context, q models.Question) *models.TurnOutcome
	Questions  []models.Question
}

func (m *MockAnswerer) Answer(ctx context.Context, q models.Question) *models.TurnOutcome {
	m.mu.Lock()
	m.Questions = append(m.Questions, q)
	m.mu.Unlock()
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, q)
	}
	return answeredTurn("Aaron Judge hit 62 home runs in 2022.")
}

func (m *MockAnswerer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Questions)
}

type MockCallRecorder struct {
	mu                 sync.Mutex
	RecordCallFunc     func(ctx context.Context, record *models.CallRecord) (string, error)
	RecordFeedbackFunc func(ctx context.Context, feedback models.Feedback) error
	Records            []models.CallRecord
}

func (m *MockCallRecorder) RecordCall(ctx context.Context, record *models.CallRecord) (string, error) {
	m.mu.Lock()
	m.Records = append(m.Records, *record)
	m.mu.Unlock()
	if m.RecordCallFunc != nil {
		return m.RecordCallFunc(ctx, record)
	}
	return record.ID, nil
}

func (m *MockCallRecorder) RecordFeedback(ctx context.Context, feedback models.Feedback) error {
	if m.RecordFeedbackFunc != nil {
		return m.RecordFeedbackFunc(ctx, feedback)
	}
	return nil
}

// ==========================
// Helper Functions
// ==========================

func answeredTurn(text string) *models.TurnOutcome {
	explanation := "From the 2022 season table."
	return &models.TurnOutcome{
		TurnID:  "turn-1",
		Outcome: models.OutcomeResponse,
		Payload: models.NewResponsePayload(text, &explanation, []models.Link{
			{Type: models.LinkPlayer, Name: "Aaron Judge"},
		}),
		QueryResult: &models.QueryResult{
			Query:   judgeSQL,
			Results: json.RawMessage(`[{"Name":"Aaron Judge","HomeRuns":62}]`),
		},
	}
}

func createTestConfig() *Config {
	return &Config{
		AllowedOrigins: []string{"https://partner.example.com"},
		DefaultLeague:  models.LeagueMLB,
		CacheTTL:       time.Hour,
		RequestTimeout: 5 * time.Second,
	}
}

type fixture struct {
	answerer *MockAnswerer
	calls    *MockCallRecorder
	redis    *miniredis.Miniredis
	server   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = cache.Close() })

	f := &fixture{
		answerer: &MockAnswerer{},
		calls:    &MockCallRecorder{},
		redis:    mr,
	}
	keys := auth.NewAPIKeys(map[string]string{testKey: testPartner})
	f.server = NewServer(createTestConfig(), f.answerer, f.calls, cache, keys, logger.NewTestLogger(t)).Routes()
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, testKey)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ==========================
// Generate Insights Tests
// ==========================

func TestGenerateInsights(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		answer         func(ctx context.Context, q models.Question) *models.TurnOutcome
		expectedStatus int
		validateOutput func(t *testing.T, body map[string]interface{}, f *fixture)
	}{
		{
			name:           "answered question",
			body:           map[string]interface{}{"question": "Who hit the most home runs in 2022?", "userId": 42},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, "Aaron Judge hit 62 home runs in 2022.", body["response"])
				assert.Equal(t, judgeSQL, body["sqlQuery"])
				assert.NotEmpty(t, body["callId"])
				assert.Len(t, body["links"], 1)

				require.Len(t, f.answerer.Questions, 1)
				q := f.answerer.Questions[0]
				assert.True(t, q.SkipClarification)
				assert.NotNil(t, q.History)
				assert.Empty(t, q.History)
				assert.Empty(t, q.SessionID)
				assert.Equal(t, models.LeagueMLB, q.League)
				assert.Equal(t, models.ModeReport, q.Mode)

				require.Len(t, f.calls.Records, 1)
				rec := f.calls.Records[0]
				assert.Equal(t, body["callId"], rec.ID)
				assert.Equal(t, testPartner, rec.PartnerID)
				assert.Equal(t, "42", rec.UserID)
				assert.Equal(t, EndpointGenerateInsights, rec.Endpoint)
				assert.Equal(t, judgeSQL, rec.SQLQuery)
				assert.Empty(t, rec.Error)
			},
		},
		{
			name:           "simple flag selects insight mode",
			body:           map[string]interface{}{"question": "Best NBA scorer?", "simple": true, "league": "NBA"},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				q := f.answerer.Questions[0]
				assert.Equal(t, models.ModeInsight, q.Mode)
				assert.Equal(t, models.LeagueNBA, q.League)
			},
		},
		{
			name:           "explicit mode wins over simple",
			body:           map[string]interface{}{"question": "Judge 2022?", "simple": true, "mode": "twitter"},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, models.ModeTwitter, f.answerer.Questions[0].Mode)
			},
		},
		{
			name:           "blank question rejected",
			body:           map[string]interface{}{"question": "   "},
			expectedStatus: http.StatusBadRequest,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				errBody := body["error"].(map[string]interface{})
				assert.Equal(t, "INVALID_REQUEST", errBody["code"])
				assert.Contains(t, errBody["details"], "question")
				assert.Zero(t, f.answerer.calls())
				assert.Empty(t, f.calls.Records)
			},
		},
		{
			name:           "unknown league rejected",
			body:           map[string]interface{}{"question": "Who won?", "league": "nhl"},
			expectedStatus: http.StatusBadRequest,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				errBody := body["error"].(map[string]interface{})
				assert.Contains(t, errBody["details"], "league")
			},
		},
		{
			name:           "question too long",
			body:           map[string]interface{}{"question": strings.Repeat("a", maxQuestionLength+1)},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed JSON",
			body:           `{"question":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "fatal turn",
			body: map[string]interface{}{"question": "Who hit the most home runs in 2022?"},
			answer: func(ctx context.Context, q models.Question) *models.TurnOutcome {
				return &models.TurnOutcome{
					Outcome: models.OutcomeError,
					Payload: models.NewResponsePayload("Sorry, I could not answer that question right now.", nil, nil),
					Error:   &models.TurnError{Kind: "fatal", Code: "DATABASE_CONNECTION_FAILED", Message: "database unavailable"},
				}
			},
			expectedStatus: http.StatusBadGateway,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				errBody := body["error"].(map[string]interface{})
				assert.Equal(t, "DATABASE_CONNECTION_FAILED", errBody["code"])
				assert.NotEmpty(t, body["callId"])

				require.Len(t, f.calls.Records, 1)
				assert.Equal(t, "DATABASE_CONNECTION_FAILED", f.calls.Records[0].Error)
				assert.Empty(t, f.redis.Keys(), "failed turns are not cached")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.answerer.AnswerFunc = tt.answer

			rec := f.post(t, "/generate-insights", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.validateOutput != nil {
				tt.validateOutput(t, decodeBody(t, rec), f)
			}
		})
	}
}

func TestGenerateInsights_CachesAnswers(t *testing.T) {
	f := newFixture(t)
	body := map[string]interface{}{"question": "Who hit the most home runs in 2022?"}

	first := f.post(t, "/generate-insights", body)
	require.Equal(t, http.StatusOK, first.Code)
	second := f.post(t, "/generate-insights", map[string]interface{}{"question": "  who hit the most home runs in 2022?  "})
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, f.answerer.calls())

	keys := f.redis.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], insightCachePrefix))
	assert.Equal(t, time.Hour, f.redis.TTL(keys[0]))

	firstBody, secondBody := decodeBody(t, first), decodeBody(t, second)
	assert.Equal(t, firstBody["response"], secondBody["response"])
	assert.Equal(t, firstBody["sqlQuery"], secondBody["sqlQuery"])
	assert.NotEqual(t, firstBody["callId"], secondBody["callId"], "every call is audited separately")
	assert.Len(t, f.calls.Records, 2)
}

func TestGenerateInsights_CacheKeyedByLeague(t *testing.T) {
	f := newFixture(t)

	f.post(t, "/generate-insights", map[string]interface{}{"question": "Who leads in wins?", "league": "mlb"})
	f.post(t, "/generate-insights", map[string]interface{}{"question": "Who leads in wins?", "league": "nba"})

	assert.Equal(t, 2, f.answerer.calls())
	assert.Len(t, f.redis.Keys(), 2)
}

func TestGenerateInsights_CacheUnavailable(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()

	rec := f.post(t, "/generate-insights", map[string]interface{}{"question": "Who hit the most home runs in 2022?"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Aaron Judge hit 62 home runs in 2022.", decodeBody(t, rec)["response"])
}

func TestGenerateInsights_AuditFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.calls.RecordCallFunc = func(ctx context.Context, record *models.CallRecord) (string, error) {
		return "", fmt.Errorf("%w: connection refused", partnerrecords.ErrDatabaseInsertFailed)
	}

	rec := f.post(t, "/generate-insights", map[string]interface{}{"question": "Who hit the most home runs in 2022?"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, f.calls.Records[0].ID, body["callId"])
}

// ==========================
// Conversation Tests
// ==========================

func TestConversation(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		answer         func(ctx context.Context, q models.Question) *models.TurnOutcome
		expectedStatus int
		validateOutput func(t *testing.T, body map[string]interface{}, f *fixture)
	}{
		{
			name:           "answer within a session",
			body:           map[string]interface{}{"question": "And in 2023?", "userId": "u1", "conversationId": 7},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, "Aaron Judge hit 62 home runs in 2022.", body["response"])
				q := f.answerer.Questions[0]
				assert.Equal(t, "acme:u1:7", q.SessionID)
				assert.False(t, q.SkipClarification)
				assert.Nil(t, q.History)

				rec := f.calls.Records[0]
				assert.Equal(t, EndpointConversation, rec.Endpoint)
				assert.Equal(t, "7", rec.ConversationID)
			},
		},
		{
			name: "clarification",
			body: map[string]interface{}{"question": "How did he do?", "conversationId": "c1"},
			answer: func(ctx context.Context, q models.Question) *models.TurnOutcome {
				return &models.TurnOutcome{
					Outcome:       models.OutcomeClarification,
					Clarification: "Which player do you mean?",
				}
			},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, "Which player do you mean?", body["clarify"])
				assert.NotEmpty(t, body["callId"])
				_, hasResponse := body["response"]
				assert.False(t, hasResponse)
				assert.Equal(t, "Which player do you mean?", f.calls.Records[0].ResponseText)
			},
		},
		{
			name: "gate answered directly",
			body: map[string]interface{}{"question": "What does OPS mean?", "conversationId": "c1"},
			answer: func(ctx context.Context, q models.Question) *models.TurnOutcome {
				return &models.TurnOutcome{
					Outcome: models.OutcomeAnswered,
					Payload: models.NewResponsePayload("OPS is on-base plus slugging.", nil, nil),
				}
			},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, "OPS is on-base plus slugging.", body["response"])
				assert.Equal(t, []interface{}{}, body["links"])
				_, hasSQL := body["sqlQuery"]
				assert.False(t, hasSQL)
			},
		},
		{
			name:           "no conversation id means no session",
			body:           map[string]interface{}{"question": "Who won the 2023 World Series?"},
			expectedStatus: http.StatusOK,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Empty(t, f.answerer.Questions[0].SessionID)
			},
		},
		{
			name: "synthesis failure",
			body: map[string]interface{}{"question": "Who hit the most home runs in 2022?", "conversationId": "c1"},
			answer: func(ctx context.Context, q models.Question) *models.TurnOutcome {
				return &models.TurnOutcome{
					Outcome: models.OutcomeError,
					Error:   &models.TurnError{Kind: "fatal", Code: "LLM_TIMEOUT", Message: "model timed out"},
				}
			},
			expectedStatus: http.StatusBadGateway,
			validateOutput: func(t *testing.T, body map[string]interface{}, f *fixture) {
				assert.Equal(t, "LLM_TIMEOUT", body["error"].(map[string]interface{})["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.answerer.AnswerFunc = tt.answer

			rec := f.post(t, "/conversation", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.validateOutput != nil {
				tt.validateOutput(t, decodeBody(t, rec), f)
			}
		})
	}
}

func TestConversation_NeverCached(t *testing.T) {
	f := newFixture(t)
	body := map[string]interface{}{"question": "Who hit the most home runs in 2022?", "conversationId": "c1"}

	f.post(t, "/conversation", body)
	f.post(t, "/conversation", body)

	assert.Equal(t, 2, f.answerer.calls())
	assert.Empty(t, f.redis.Keys())
}

// ==========================
// Feedback Tests
// ==========================

func TestFeedback(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		recordErr      error
		expectedStatus int
		expectedCode   string
	}{
		{name: "recorded", body: map[string]interface{}{"callId": "c-1", "helpful": true}, expectedStatus: http.StatusOK},
		{name: "unhelpful recorded", body: map[string]interface{}{"callId": "c-1", "helpful": false}, expectedStatus: http.StatusOK},
		{name: "missing helpful", body: map[string]interface{}{"callId": "c-1"}, expectedStatus: http.StatusBadRequest, expectedCode: "INVALID_REQUEST"},
		{name: "missing call id", body: map[string]interface{}{"helpful": true}, expectedStatus: http.StatusBadRequest, expectedCode: "INVALID_REQUEST"},
		{
			name:           "unknown call",
			body:           map[string]interface{}{"callId": "nope", "helpful": true},
			recordErr:      fmt.Errorf("%w: nope", partnerrecords.ErrCallNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "CALL_NOT_FOUND",
		},
		{
			name:           "database down",
			body:           map[string]interface{}{"callId": "c-1", "helpful": true},
			recordErr:      fmt.Errorf("%w: timeout", partnerrecords.ErrDatabaseInsertFailed),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var got models.Feedback
			f.calls.RecordFeedbackFunc = func(ctx context.Context, feedback models.Feedback) error {
				got = feedback
				return tt.recordErr
			}

			rec := f.post(t, "/feedback", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, body["error"].(map[string]interface{})["code"])
				return
			}
			assert.Equal(t, true, body["recorded"])
			assert.Equal(t, "c-1", got.CallID)
			assert.Equal(t, tt.body.(map[string]interface{})["helpful"], got.Helpful)
		})
	}
}

// ==========================
// Middleware Tests
// ==========================

func TestRoutes_RequireAPIKey(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/generate-insights", strings.NewReader(`{"question":"hi"}`))
	req.Header.Set(auth.HeaderAPIKey, "wrong")
	rec := httptest.NewRecorder()

	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_API_KEY", decodeBody(t, rec)["error"].(map[string]interface{})["code"])
	assert.Zero(t, f.answerer.calls())
}

func TestRoutes_CORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/generate-insights", nil)
	req.Header.Set("Origin", "https://partner.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", strings.ToLower(auth.HeaderAPIKey))
	rec := httptest.NewRecorder()

	f.server.ServeHTTP(rec, req)

	assert.Equal(t, "https://partner.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, f.answerer.calls())
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/generate-insights", nil)
	req.Header.Set(auth.HeaderAPIKey, testKey)
	rec := httptest.NewRecorder()

	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.answerer.AnswerFunc = func(ctx context.Context, q models.Question) *models.TurnOutcome {
		panic("boom")
	}

	rec := f.post(t, "/generate-insights", map[string]interface{}{"question": "Who hit the most home runs in 2022?"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// ==========================
// Helper Tests
// ==========================

func TestSessionID(t *testing.T) {
	assert.Equal(t, "acme:u1:7", SessionID("acme", "u1", "7"))
	assert.Equal(t, "acme::7", SessionID("acme", "", "7"))
	assert.Empty(t, SessionID("acme", "u1", ""))
	assert.NotEqual(t, SessionID("acme", "u1", "7"), SessionID("other", "u1", "7"))
}

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		raw      string
		expected ID
	}{
		{`"abc"`, "abc"},
		{`" padded "`, "padded"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &id), tt.raw)
		assert.Equal(t, tt.expected, id)
	}

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

// ==========================
// Benchmark Tests
// ==========================

func BenchmarkGenerateInsights(b *testing.B) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		b.Fatal(err)
	}
	defer mr.Close()
	cache := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer cache.Close()

	keys := auth.NewAPIKeys(map[string]string{testKey: testPartner})
	handler := NewServer(createTestConfig(), &MockAnswerer{}, &MockCallRecorder{}, cache, keys, logger.NewNoOpLogger()).Routes()
	body := []byte(`{"question":"Who hit the most home runs in 2022?"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate-insights", bytes.NewReader(body))
		req.Header.Set(auth.HeaderAPIKey, testKey)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
