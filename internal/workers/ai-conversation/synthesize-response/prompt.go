package synthesizeresponse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/models"
)

const (
	noSQLPlaceholder     = "No historical SQL query was generated or needed."
	noResultsPlaceholder = "No historical query results provided or query was not run."
	noLivePlaceholder    = "No live/upcoming data provided or needed."

	webResultsOpen  = "\n\nWEB_RESULTS:\n"
	webResultsClose = "\nEND_WEB_RESULTS"
)

const sharedRules = `Rules:
- Use ONLY the data provided below. Never invent statistics, names, odds or dates.
- If the historical results are empty, say so plainly and describe what was searched for.
- If no live data is provided, answer from the historical data alone.
- Live data sets are labelled by source (Blitz Live, Blitz AI, Blitz). Credit the label when you use them.
- Web results appear between WEB_RESULTS and END_WEB_RESULTS. Treat them as secondary context and never mix them up with database rows.
- Today's date is %s.`

const jsonContract = `Respond with a JSON object:
{"response": string, "explanation": string or null, "links": [{"type": "player" | "team" | "matchup", "name": string}]}
"links" lists the players, teams and matchups your response mentions. "explanation" briefly says which data the answer came from.`

var modeInstructions = map[models.OutputMode]string{
	models.ModeInsight: `You are Blitz, a sports analytics assistant for %s. Write a short insight of two to four sentences
that answers the question directly and leads with the key number.`,
	models.ModeReport: `You are Blitz, a sports analytics assistant for %s. Write a detailed report in Markdown for the
"response" field: a one-line summary, then sections with headers, bullet points and tables where the data supports them.`,
	models.ModeTwitter: `You are Blitz, a sports analytics assistant for %s posting on Twitter. Reply in a casual, confident tone
with plain text only: no Markdown, no lists, no links. Stay well under %d characters and finish with %s.`,
}

func (h *Handler) buildSystemPrompt(input *Input) string {
	league := strings.ToUpper(string(input.League))
	mode := effectiveMode(input.Mode)

	var parts []string
	if mode == models.ModeTwitter {
		parts = append(parts, fmt.Sprintf(modeInstructions[mode], league, h.config.TweetMaxChars, h.config.DefaultHashtag))
	} else {
		parts = append(parts, fmt.Sprintf(modeInstructions[mode], league))
	}
	parts = append(parts, "", fmt.Sprintf(sharedRules, formatDate(h.config.now())))
	if mode != models.ModeTwitter {
		parts = append(parts, "", jsonContract)
	}
	return strings.Join(parts, "\n")
}

// buildUserPrompt fuses every data source into one message. Web results are
// always the trailing block.
func (h *Handler) buildUserPrompt(input *Input) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("User Question: %s", strings.TrimSpace(input.Question)))
	if custom := (models.Question{CustomData: input.CustomData}).CustomDataText(); custom != "" {
		parts = append(parts, "\nPartner context:", custom)
	}

	sql := strings.TrimSpace(input.SQL())
	if sql == "" {
		sql = noSQLPlaceholder
	}
	parts = append(parts, "\nHistorical SQL query:", sql)
	parts = append(parts, "\nHistorical query results:", formatResults(input.QueryResult, h.config.MaxResultChars))
	parts = append(parts, "\nLive data:", formatLiveData(input.LiveData))

	return strings.Join(parts, "\n") + formatWebResults(input.WebResults)
}

func formatResults(result *models.QueryResult, maxChars int) string {
	if result.IsEmpty() {
		return noResultsPlaceholder
	}
	return models.CapText(string(result.Results), maxChars)
}

func formatLiveData(data map[string]interface{}) string {
	if len(data) == 0 {
		return noLivePlaceholder
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return noLivePlaceholder
	}
	return string(raw)
}

func formatWebResults(results []models.WebResult) string {
	if len(results) == 0 {
		return ""
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return ""
	}
	return webResultsOpen + string(raw) + webResultsClose
}

func historyMessages(history models.History) []llm.Message {
	messages := make([]llm.Message, 0, len(history)*2)
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.UserMessage})
		if turn.AssistantMessage != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.AssistantMessage})
		}
	}
	return messages
}

func effectiveMode(mode models.OutputMode) models.OutputMode {
	if mode.Valid() {
		return mode
	}
	return models.ModeInsight
}

func formatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}
