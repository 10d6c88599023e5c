package clarificationgate

import (
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/models"
)

var historicalCoverage = map[models.League]string{
	models.LeagueMLB: "MLB regular season and postseason games from the 2012 season through yesterday",
	models.LeagueNBA: "NBA regular season and playoff games from the 2015-16 season through yesterday",
}

const scopeRules = `You are the front desk of Blitz, a sports analytics assistant. Today is %s.
Decide how to handle the user's latest message.

Scope:
- Historical data: %s.
- Live data: active rosters, schedules, projections and betting lines for today and upcoming games.
- Granularity: game, season, player and team statistics.
- Supported leagues: MLB and NBA.
- Out of scope: direct betting-strategy requests (what to bet, how much to stake), other sports and non-sports topics.

Decisions:
- answer: greetings, questions about what you can do, or out-of-scope requests. Reply to the user directly and politely.
- clarify: the request is ambiguous in a way that changes which data is needed, for example a leaderboard question with no season or date. Ask one short question.
- proceed: the request can be answered from the data above.
`

const prefixFormat = `Reply with exactly one of:
ANSWER: <your reply to the user>
CLARIFY: <your question to the user>
PROCEED`

const jsonFormat = `Respond with a JSON object: {"type": "answer" | "clarify" | "proceed", "text": "<reply or question, empty for proceed>"}`

func buildSystemPrompt(league models.League, now time.Time, structured bool) string {
	coverage, ok := historicalCoverage[league]
	if !ok {
		coverage = historicalCoverage[models.LeagueMLB]
	}
	prompt := fmt.Sprintf(scopeRules, now.Format("2006-01-02"), coverage)
	if structured {
		return prompt + "\n" + jsonFormat
	}
	return prompt + "\n" + prefixFormat
}

func buildUserPrompt(input *Input, historyTurns int) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	b.WriteString(input.History.Context(historyTurns).Transcript())
	b.WriteString("\n\n")

	custom := models.Question{CustomData: input.CustomData}.CustomDataText()
	if custom != "" {
		fmt.Fprintf(&b, "Partner context:\n%s\n\n", custom)
	}
	fmt.Fprintf(&b, "Latest message: %s", strings.TrimSpace(input.Question))
	return b.String()
}
