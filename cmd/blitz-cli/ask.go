package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"blitz-workers/internal/api"
	"blitz-workers/internal/common/auth"
	commonhttp "blitz-workers/internal/common/http"

	"github.com/spf13/cobra"
)

var askOpts struct {
	url            string
	apiKey         string
	league         string
	mode           string
	conversationID string
	userID         string
	customData     string
	timeout        time.Duration
	raw            bool
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the partner API a question",
	Long: "Ask sends the question to /generate-insights, or to /conversation when a\n" +
		"conversation id is given so follow-ups see earlier turns.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if askOpts.apiKey == "" {
			askOpts.apiKey = os.Getenv("BLITZ_API_KEY")
		}
		if askOpts.apiKey == "" {
			return errors.New("an API key is required (--api-key or BLITZ_API_KEY)")
		}

		req, err := buildAskRequest(strings.Join(args, " "))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), askOpts.timeout)
		defer cancel()

		client := commonhttp.NewClient(askOpts.timeout, 0)
		raw, err := client.PostJSON(ctx, askEndpoint(askOpts.url, req), map[string]string{
			auth.HeaderAPIKey: askOpts.apiKey,
		}, req)
		if err != nil {
			var statusErr *commonhttp.StatusError
			if errors.As(err, &statusErr) {
				return fmt.Errorf("request failed: %s", describeAPIError(statusErr))
			}
			return fmt.Errorf("request failed: %w", err)
		}
		return printAnswer(cmd.OutOrStdout(), raw, askOpts.raw)
	},
}

func init() {
	f := askCmd.Flags()
	f.StringVar(&askOpts.url, "url", "http://localhost:8080", "Base URL of the worker manager")
	f.StringVar(&askOpts.apiKey, "api-key", "", "Partner API key")
	f.StringVar(&askOpts.league, "league", "mlb", "League: mlb or nba")
	f.StringVar(&askOpts.mode, "mode", "", "Output mode: insight, report or twitter")
	f.StringVar(&askOpts.conversationID, "conversation", "", "Conversation id for follow-up questions")
	f.StringVar(&askOpts.userID, "user", "", "User id the conversation belongs to")
	f.StringVar(&askOpts.customData, "custom-data", "", "Partner context, as JSON or plain text")
	f.DurationVar(&askOpts.timeout, "timeout", 3*time.Minute, "Request timeout")
	f.BoolVar(&askOpts.raw, "raw", false, "Print the raw JSON reply")
}

func buildAskRequest(question string) (api.InsightRequest, error) {
	req := api.InsightRequest{
		Question:       strings.TrimSpace(question),
		League:         askOpts.league,
		Mode:           askOpts.mode,
		UserID:         api.ID(askOpts.userID),
		ConversationID: api.ID(askOpts.conversationID),
	}
	if data := strings.TrimSpace(askOpts.customData); data != "" {
		if json.Valid([]byte(data)) {
			req.CustomData = json.RawMessage(data)
		} else {
			encoded, _ := json.Marshal(data)
			req.CustomData = encoded
		}
	}
	return req, req.Validate()
}

func askEndpoint(base string, req api.InsightRequest) string {
	base = strings.TrimRight(base, "/")
	if req.ConversationID != "" {
		return base + "/conversation"
	}
	return base + "/generate-insights"
}

func describeAPIError(err *commonhttp.StatusError) string {
	var body api.ErrorResponse
	if json.Unmarshal([]byte(err.Body), &body) == nil && body.Error.Code != "" {
		return fmt.Sprintf("%d %s: %s", err.StatusCode, body.Error.Code, body.Error.Message)
	}
	return err.Error()
}

func printAnswer(w io.Writer, raw json.RawMessage, asJSON bool) error {
	if asJSON {
		_, err := fmt.Fprintln(w, string(raw))
		return err
	}

	var clarify api.ClarifyResponse
	if err := json.Unmarshal(raw, &clarify); err == nil && clarify.Clarify != "" {
		fmt.Fprintf(w, "? %s\n", clarify.Clarify)
		return nil
	}

	var answer api.InsightResponse
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	fmt.Fprintln(w, answer.Response)
	if answer.Explanation != nil && *answer.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", *answer.Explanation)
	}
	if answer.SQLQuery != "" {
		fmt.Fprintf(w, "\nSQL: %s\n", answer.SQLQuery)
	}
	for _, link := range answer.Links {
		fmt.Fprintf(w, "  [%s] %s\n", link.Type, link.Name)
	}
	fmt.Fprintf(w, "\ncall id: %s\n", answer.CallID)
	return nil
}
