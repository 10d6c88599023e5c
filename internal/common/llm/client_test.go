package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blitz-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-test",
		Temperature: 0.2,
		MaxTokens:   256,
		MaxRetries:  1,
		Timeout:     2 * time.Second,
	}
}

func reply(content string) string {
	encoded, _ := json.Marshal(content)
	return `{"choices": [{"message": {"content": ` + string(encoded) + `}}]}`
}

// ==========================
// Complete
// ==========================

func TestComplete(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(reply("```json\n{\"type\": \"proceed\"}\n```")))
	}))
	defer server.Close()

	client := NewClient(createTestConfig(server.URL+"/"), logger.NewNoOpLogger())
	temp := 0.0
	text, err := client.Complete(context.Background(), Request{
		Purpose:     "clarify",
		System:      "You are a gate.",
		User:        "Who won?",
		History:     []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		ForceJSON:   true,
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type": "proceed"}`, text)

	assert.Equal(t, "gpt-test", captured.Model)
	assert.Equal(t, 0.0, captured.Temperature)
	assert.Equal(t, 256, captured.MaxTokens)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, RoleUser, captured.Messages[3].Role)
	assert.Equal(t, "Who won?", captured.Messages[3].Content)
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(reply("ok")))
	}))
	defer server.Close()

	client := NewClient(createTestConfig(server.URL), logger.NewNoOpLogger())
	text, err := client.Complete(context.Background(), Request{Purpose: "synth", User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestComplete_Failures(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		timeout       time.Duration
		expectedError error
		expectStatus  string
	}{
		{
			name: "exhausted retries",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedError: ErrLLMCompletionFailed,
			expectStatus:  "error",
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices": []}`))
			},
			expectedError: ErrLLMCompletionFailed,
			expectStatus:  "error",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			timeout:       50 * time.Millisecond,
			expectedError: ErrLLMTimeout,
			expectStatus:  "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			cfg := createTestConfig(server.URL)
			if tt.timeout > 0 {
				cfg.Timeout = tt.timeout
			}
			client := NewClient(cfg, logger.NewNoOpLogger())

			var mu sync.Mutex
			var statuses []string
			client.OnComplete(func(purpose, status string, _ time.Duration) {
				mu.Lock()
				defer mu.Unlock()
				assert.Equal(t, "plan", purpose)
				statuses = append(statuses, status)
			})

			_, err := client.Complete(context.Background(), Request{Purpose: "plan", User: "q"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expectedError), "got %v", err)
			assert.Equal(t, []string{tt.expectStatus}, statuses)
		})
	}
}

// ==========================
// Normalize / fences / JSON
// ==========================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{name: "string", content: `"plain answer"`, expected: "plain answer"},
		{name: "parts", content: `[{"type": "text", "text": "Hello "}, {"type": "text", "text": "world"}]`, expected: "Hello world"},
		{name: "fenced string", content: `"` + "```sql\\nSELECT 1\\n```" + `"`, expected: "SELECT 1"},
		{name: "unknown shape", content: `{"odd": true}`, expected: `{"odd": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(json.RawMessage(tt.content)))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripFences("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", StripFences("```\nSELECT 1\n```"))
	assert.Equal(t, `{"a": 1}`, StripFences("```{\"a\": 1}```"))
	assert.Equal(t, "no fences", StripFences("  no fences  "))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, ExtractJSON(`Sure! Here it is: {"a": {"b": 1}} Hope that helps.`))
	assert.Equal(t, `{"a": 1}`, ExtractJSON("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, "no json", ExtractJSON("no json"))
}
