// Package twitter posts replies through the v2 tweets endpoint.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	commonhttp "blitz-workers/internal/common/http"
)

var (
	ErrEmptyText    = errors.New("tweet text is empty")
	ErrNotPosted    = errors.New("tweet was not created")
	ErrUnconfigured = errors.New("twitter bearer token is not configured")
)

type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

type Client struct {
	config Config
	http   *commonhttp.Client
}

func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   commonhttp.NewClient(config.Timeout, 0),
	}
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Reply *replyField `json:"reply,omitempty"`
}

type replyField struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// PostReply posts text, threaded under inReplyTo when it is set, and returns
// the new tweet id.
func (c *Client) PostReply(ctx context.Context, text, inReplyTo string) (string, error) {
	if c.config.BearerToken == "" {
		return "", ErrUnconfigured
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	body := createTweetRequest{Text: text}
	if inReplyTo != "" {
		body.Reply = &replyField{InReplyToTweetID: inReplyTo}
	}

	raw, err := c.http.PostJSON(ctx, strings.TrimRight(c.config.BaseURL, "/")+"/2/tweets", map[string]string{
		"Authorization": "Bearer " + c.config.BearerToken,
	}, body)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}

	var resp createTweetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if resp.Data.ID == "" {
		if len(resp.Errors) > 0 {
			return "", fmt.Errorf("%w: %s", ErrNotPosted, resp.Errors[0].Message)
		}
		return "", ErrNotPosted
	}
	return resp.Data.ID, nil
}
