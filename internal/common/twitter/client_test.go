package twitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	commonhttp "blitz-workers/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", BearerToken: "token-123", Timeout: 2 * time.Second})
}

func TestClient_PostReply(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1790000000000000001","text":"Judge hit 62 #BlitzAI"}}`))
	})

	id, err := client.PostReply(context.Background(), "Judge hit 62 #BlitzAI", "1789999999999999999")

	require.NoError(t, err)
	assert.Equal(t, "1790000000000000001", id)
	assert.Equal(t, "Judge hit 62 #BlitzAI", got["text"])
	assert.Equal(t, map[string]interface{}{"in_reply_to_tweet_id": "1789999999999999999"}, got["reply"])
}

func TestClient_PostWithoutReply(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"id":"42"}}`))
	})

	id, err := client.PostReply(context.Background(), "Scheduled insight", "")

	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.NotContains(t, got, "reply")
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		text    string
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"title":"Too Many Requests"}`,
			text:   "hello",
			check: func(t *testing.T, err error) {
				var statusErr *commonhttp.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
			},
		},
		{
			name:    "api errors",
			status:  http.StatusOK,
			body:    `{"errors":[{"message":"duplicate content"}]}`,
			text:    "hello",
			wantErr: ErrNotPosted,
		},
		{
			name:    "empty text",
			status:  http.StatusOK,
			body:    `{}`,
			text:    "   ",
			wantErr: ErrEmptyText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.PostReply(context.Background(), tt.text, "")

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClient_Unconfigured(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost"})

	_, err := client.PostReply(context.Background(), "hello", "")

	assert.ErrorIs(t, err, ErrUnconfigured)
}
