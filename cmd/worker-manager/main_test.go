package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blitz-workers/internal/common/config"
	"blitz-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestConfig() *config.Config {
	cfg := &config.Config{
		Workers: map[string]config.WorkerConfig{
			"execute-historical-query": {Enabled: true, Timeout: 90000},
			"clarification-gate":       {Enabled: true},
		},
	}
	cfg.Pipeline.HistoryTurns = 6
	cfg.Pipeline.QueryTimeout = 20000
	cfg.Pipeline.MaxQueryRetries = 1
	cfg.Pipeline.MinConfidence = 55
	cfg.Pipeline.SimilarExamples = 4
	cfg.Pipeline.SynthMaxChars = 9000
	cfg.Pipeline.StructuredOutput = true
	cfg.APIs.LLM.MaxTokens = 1024
	cfg.APIs.Twitter.MaxChars = 280
	cfg.APIs.Twitter.DefaultHashtag = "#BlitzAI"
	cfg.APIs.WebSearch.ScrapeTop = 0
	cfg.APIs.WebSearch.Timeout = 7000
	cfg.Database.Elasticsearch.ExamplesIndex = "examples_v2"
	return cfg
}

// ==========================
// Stage configuration
// ==========================

func TestWorkerTimeout(t *testing.T) {
	cfg := createTestConfig()
	assert.Equal(t, 90*time.Second, workerTimeout(cfg, "execute-historical-query", time.Minute))
	assert.Equal(t, time.Minute, workerTimeout(cfg, "clarification-gate", time.Minute), "zero timeout keeps default")
	assert.Equal(t, 5*time.Second, workerTimeout(cfg, "unknown", 5*time.Second))
}

func TestStageConfigs(t *testing.T) {
	cfg := createTestConfig()

	exec := executeConfig(cfg)
	assert.Equal(t, 90*time.Second, exec.Timeout)
	assert.Equal(t, 1, exec.MaxRetries)
	assert.Equal(t, 55, exec.MinConfidence)
	assert.Equal(t, 6, exec.HistoryTurns)

	query := queryPostgresConfig(cfg)
	assert.Equal(t, 20*time.Second, query.QueryTimeout)
	assert.Equal(t, 25*time.Second, query.Timeout)

	plan := queryPlanConfig(cfg)
	assert.True(t, plan.StructuredOutput)
	assert.Equal(t, 4, plan.SimilarExamples)

	search := searchExamplesConfig(cfg)
	assert.Equal(t, "examples_v2", search.Index)
	assert.Equal(t, 4, search.TopK)

	synth := synthesizeConfig(cfg)
	assert.Equal(t, 9000, synth.MaxResultChars)
	assert.Equal(t, 280, synth.TweetMaxChars)
	assert.Equal(t, "#BlitzAI", synth.DefaultHashtag)
	assert.Equal(t, 1024, synth.MaxTokens)

	web := webSearchConfig(cfg)
	assert.Equal(t, 7*time.Second, web.Timeout)
	assert.NotZero(t, web.ScrapeTop, "scrape count keeps its default")

	gate := clarificationConfig(cfg)
	assert.True(t, gate.StructuredOutput)
	assert.Equal(t, 6, gate.HistoryTurns)
}

// ==========================
// Startup helpers
// ==========================

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewNoOpLogger()

	attempts := 0
	err := retryWithBackoff(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5, time.Millisecond, log, "Redis connection")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = retryWithBackoff(func() error {
		attempts++
		return errors.New("down")
	}, 2, time.Millisecond, log, "Postgres connection")
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "Postgres connection failed after 2 attempts")
}

func TestWriteStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeStatus(rec, http.StatusServiceUnavailable, "not ready", map[string]string{
		"postgres": "ok",
		"redis":    result(errors.New("dial tcp: refused")),
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "dial tcp: refused", checks["redis"])
}
