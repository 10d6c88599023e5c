package models

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

type ResultType string

const (
	ResultSQLQuery        ResultType = "sql_query"
	ResultPreviousResults ResultType = "previous_results"
)

// QueryResult holds serialized rows. Results is kept as raw JSON so reused
// results are returned exactly as stored.
type QueryResult struct {
	Query    string          `json:"query"`
	Results  json.RawMessage `json:"results"`
	Type     ResultType      `json:"type"`
	RowCount int             `json:"rowCount"`
}

// IsEmpty reports whether the result carries no rows.
func (r *QueryResult) IsEmpty() bool {
	if r == nil {
		return true
	}
	raw := strings.TrimSpace(string(r.Results))
	switch raw {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}

// CountRows returns the number of elements when raw is a JSON array, 1 for any
// other non-empty value and 0 for null.
func CountRows(raw json.RawMessage) int {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err == nil {
		return len(rows)
	}
	return 1
}

type ValidationVerdict struct {
	IsValid                     bool     `json:"isValid"`
	ConfidenceResultsAreCorrect int      `json:"confidenceResultsAreCorrect"`
	AnswersUserQuestion         bool     `json:"answersUserQuestion"`
	Issues                      []string `json:"issues"`
	Insights                    []string `json:"insights"`
	Recommendations             []string `json:"recommendations"`
	Summary                     string   `json:"summary"`
	Interpretation              string   `json:"interpretation"`
}

// IndicatesWrongResults is the retry trigger. Only the structured fields are
// consulted; an incomplete-but-correct verdict never triggers a retry.
func (v *ValidationVerdict) IndicatesWrongResults(minConfidence int) bool {
	if v == nil {
		return false
	}
	return !v.IsValid || v.ConfidenceResultsAreCorrect < minConfidence
}

func (v *ValidationVerdict) Clamp() {
	if v.ConfidenceResultsAreCorrect < 0 {
		v.ConfidenceResultsAreCorrect = 0
	}
	if v.ConfidenceResultsAreCorrect > 100 {
		v.ConfidenceResultsAreCorrect = 100
	}
	if v.Issues == nil {
		v.Issues = []string{}
	}
	if v.Insights == nil {
		v.Insights = []string{}
	}
	if v.Recommendations == nil {
		v.Recommendations = []string{}
	}
}

type LinkType string

const (
	LinkPlayer  LinkType = "player"
	LinkTeam    LinkType = "team"
	LinkMatchup LinkType = "matchup"
)

func (t LinkType) Valid() bool {
	return t == LinkPlayer || t == LinkTeam || t == LinkMatchup
}

type Link struct {
	Type LinkType `json:"type"`
	Name string   `json:"name"`
}

// ResponsePayload is the pipeline's final answer.
type ResponsePayload struct {
	Response    string  `json:"response"`
	Explanation *string `json:"explanation"`
	Links       []Link  `json:"links"`
}

func NewResponsePayload(response string, explanation *string, links []Link) *ResponsePayload {
	if links == nil {
		links = []Link{}
	}
	return &ResponsePayload{Response: response, Explanation: explanation, Links: links}
}

// Example is a previously successful (question, SQL) pair.
type Example struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	SQL      string  `json:"sql"`
	League   League  `json:"league"`
	Score    float64 `json:"score,omitempty"`
}

type WebResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source,omitempty"`
}

// TruncationMarker is appended to result text cut at a character cap.
const TruncationMarker = "\n... (results truncated)"

// CapText returns s unchanged when it fits in limit bytes, otherwise at most
// the first limit bytes followed by TruncationMarker. The cap is measured in
// bytes and the cut backs off to a rune boundary, so the kept prefix may be up
// to three bytes shorter than limit. A non-positive limit disables the cap.
func CapText(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
