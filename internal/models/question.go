package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type League string

const (
	LeagueMLB League = "mlb"
	LeagueNBA League = "nba"
)

func (l League) Valid() bool {
	return l == LeagueMLB || l == LeagueNBA
}

// ParseLeague lower-cases s and falls back to def when it is not a supported league.
func ParseLeague(s string, def League) League {
	l := League(strings.ToLower(strings.TrimSpace(s)))
	if l.Valid() {
		return l
	}
	return def
}

type OutputMode string

const (
	ModeInsight OutputMode = "insight"
	ModeReport  OutputMode = "report"
	ModeTwitter OutputMode = "twitter"
)

func (m OutputMode) Valid() bool {
	return m == ModeInsight || m == ModeReport || m == ModeTwitter
}

// Question is the immutable input to every pipeline stage.
type Question struct {
	Text       string          `json:"text"`
	CustomData json.RawMessage `json:"customData,omitempty"`
	League     League          `json:"league"`
	Mode       OutputMode      `json:"mode"`
	SessionID  string          `json:"sessionId,omitempty"`

	// SkipClarification bypasses the gate for single-shot surfaces.
	SkipClarification bool `json:"skipClarification,omitempty"`
	// History is supplied by surfaces that keep their own transcript.
	// When nil the orchestrator reads the conversation log for SessionID.
	History History `json:"history,omitempty"`
}

// CustomDataText renders the partner payload for prompts.
func (q Question) CustomDataText() string {
	raw := strings.TrimSpace(string(q.CustomData))
	if raw == "" || raw == "null" || raw == "{}" {
		return ""
	}
	var s string
	if err := json.Unmarshal(q.CustomData, &s); err == nil {
		return s
	}
	return raw
}

// ConversationTurn is one (user, assistant) exchange of a session.
type ConversationTurn struct {
	TurnID           string          `json:"turnId"`
	UserMessage      string          `json:"userMessage"`
	AssistantMessage string          `json:"assistantMessage"`
	SQLQuery         string          `json:"sqlQuery,omitempty"`
	Results          json.RawMessage `json:"results,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func (t ConversationTurn) HasResults() bool {
	raw := strings.TrimSpace(string(t.Results))
	return raw != "" && raw != "null"
}

// History is ordered oldest to newest.
type History []ConversationTurn

// Context returns the tail of h that ends at the most recent answered turn,
// limited to maxTurns entries. Trailing unanswered turns are excluded.
func (h History) Context(maxTurns int) History {
	last := -1
	for i := len(h) - 1; i >= 0; i-- {
		if strings.TrimSpace(h[i].AssistantMessage) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return History{}
	}
	start := 0
	if maxTurns > 0 && last+1 > maxTurns {
		start = last + 1 - maxTurns
	}
	out := make(History, last+1-start)
	copy(out, h[start:last+1])
	return out
}

// TurnAt addresses turns newest first: 0 is the most recent prior turn.
func (h History) TurnAt(index int) (ConversationTurn, bool) {
	if index < 0 || index >= len(h) {
		return ConversationTurn{}, false
	}
	return h[len(h)-1-index], true
}

// Transcript renders the turns for prompt context, including the SQL and the
// turn index each stored result set can be reused by.
func (h History) Transcript() string {
	if len(h) == 0 {
		return "No previous conversation."
	}
	var b strings.Builder
	for i, t := range h {
		idx := len(h) - 1 - i
		fmt.Fprintf(&b, "Turn %d\nUser: %s\nAssistant: %s\n", idx, t.UserMessage, t.AssistantMessage)
		if t.SQLQuery != "" {
			fmt.Fprintf(&b, "SQL: %s\n", t.SQLQuery)
		}
		if t.HasResults() {
			fmt.Fprintf(&b, "Stored results available: USE_PREVIOUS_RESULTS%d\n", idx)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
