// Package http wraps net/http for upstream REST catalogs. Calls that share an
// API family are spaced apart to stay under upstream burst limits.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient *http.Client
	pacing     time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

func NewClient(timeout, pacing time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		pacing:     pacing,
		next:       make(map[string]time.Time),
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Wait reserves the next slot for family and blocks until it arrives.
func (c *Client) Wait(ctx context.Context, family string) error {
	if c.pacing <= 0 || family == "" {
		return nil
	}

	c.mu.Lock()
	now := time.Now()
	slot := c.next[family]
	if slot.Before(now) {
		slot = now
	}
	c.next[family] = slot.Add(c.pacing)
	c.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJSON performs a paced GET and returns the decoded-as-raw body.
func (c *Client) GetJSON(ctx context.Context, family, url string, headers map[string]string) (json.RawMessage, error) {
	if err := c.Wait(ctx, family); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req, headers)
}

// PostJSON sends body as JSON and returns the raw reply.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, headers)
}

func (c *Client) doJSON(req *http.Request, headers map[string]string) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(body), nil
}
