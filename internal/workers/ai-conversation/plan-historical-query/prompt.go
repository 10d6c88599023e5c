package planhistoricalquery

import (
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/models"
)

const noExamples = "No similar historical queries provided for this context."

const systemPrompt = `## Role
You are Blitz, an expert on %[1]s data and PostgreSQL. Decide whether the user's latest message needs a
query against the historical database and, if so, write it. Live and future data is handled elsewhere.

## Conversation History
%[2]s

## Similar Historical Queries
%[3]s

## Current Date
Today is %[4]s. The historical database contains data up to yesterday.

## Options
1. New query: a single PostgreSQL SELECT statement that answers the message.
2. Previous results: the stored results of an earlier turn fully answer the message. Turns are numbered
   from 0 for the most recent; only turns marked "Stored results available" can be reused.
3. Similar query: one of the similar historical queries matches the intent exactly. Return its SQL verbatim.
4. No query: the message is only about future games, projections or lines. Use this sparingly.

%[5]s

## Available Data Schema
Use only these tables and columns. Never invent identifiers.

%[6]s

## Query Guidelines
- One statement only. Never chain statements with semicolons.
- Select identifiers (player, team, game ids and names) alongside the requested figures.
- Use season tables for full-season requests and game tables for game-level requests.
- Filter as specifically as the question allows and order results meaningfully.
- "HRR" means hits + runs + RBIs.
%[7]s`

const jsonOptions = `## Response Format
Respond with a JSON object:
{"type": "new_query" | "reuse_example" | "reuse_previous_result" | "no_query_needed",
 "sql": "<SQL for new_query or reuse_example>",
 "turn_index": <turn number for reuse_previous_result>}`

const prefixOptions = `## Response Format
1. New query or similar query: respond only with the SQL, without markdown.
2. Previous results: respond with USE_PREVIOUS_RESULTS followed by the turn number, e.g. USE_PREVIOUS_RESULTS0.
4. No query: respond with exactly NO_SQL_NEEDED.`

const reportGuideline = "- Reports benefit from extra context: include supporting columns beyond the direct answer."

func formatExamples(examples []models.Example) string {
	if len(examples) == 0 {
		return noExamples
	}
	var b strings.Builder
	for i, ex := range examples {
		fmt.Fprintf(&b, "Example %d:\nUser Question: %s\nSQL Query: %s\n---\n", i+1, ex.Question, ex.SQL)
	}
	return strings.TrimSpace(b.String())
}

func buildSystemPrompt(input *Input, history models.History, examples []models.Example, schema string, now time.Time, structured bool) string {
	format := prefixOptions
	if structured {
		format = jsonOptions
	}
	extra := ""
	if input.Mode == models.ModeReport {
		extra = reportGuideline
	}
	transcript := "This is the beginning of the conversation."
	if len(history) > 0 {
		transcript = history.Transcript()
	}
	return strings.TrimSpace(fmt.Sprintf(systemPrompt,
		strings.ToUpper(string(input.League)),
		transcript,
		formatExamples(examples),
		now.Format("2006-01-02"),
		format,
		schema,
		extra,
	))
}

func buildUserPrompt(input *Input, feedback *Feedback) string {
	var b strings.Builder
	if custom := (models.Question{CustomData: input.CustomData}).CustomDataText(); custom != "" {
		fmt.Fprintf(&b, "Partner context:\n%s\n\n", custom)
	}
	fmt.Fprintf(&b, "User's message: %s", strings.TrimSpace(input.Question))
	if feedback != nil {
		fmt.Fprintf(&b, "\n\nA previous attempt failed.\nSQL: %s\nProblem: %s\n"+
			"Write a corrected, simpler query that avoids this problem. Do not repeat the same SQL.",
			feedback.SQL, feedback.Reason)
	}
	return b.String()
}
