package planlivedata

import (
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/models"
)

const systemPrompt = `You plan calls to live sports data APIs for %s. Today is %s.

Live data is only relevant for today or future-dated requests: active rosters, today's and upcoming
games, projections and betting lines. Questions about past games or seasons are answered from the
historical database and need no live data.

%s

Rules:
- Use only the endpoint templates listed above, copied exactly. Fill {placeholders} through "params".
- Dates are YYYY-MM-DD. When a game ID is unknown, pass "date" and "team" or "player" instead of "gameID".
- For betting lines add constraint filters on BettingMarketTypeID, BettingBetTypeID and BettingPeriodTypeID.
- "keys" lists the response keys worth keeping; leave it empty to keep everything.
- Filters are objects of key/value pairs matched exactly against response rows.

Respond with a JSON object:
{"needs_live_data": bool,
 "calls": [{"endpoint": "<template>", "params": {}}],
 "keys": ["..."],
 "constraints": {"sort_by": "<key>", "sort_order": "asc" | "desc", "top_n": <int>, "filters": [{"<key>": <value>}]}}
When no live data is needed respond with {"needs_live_data": false}.`

func buildSystemPrompt(league models.League, now time.Time, catalog string) string {
	return fmt.Sprintf(systemPrompt, strings.ToUpper(string(league)), now.Format("2006-01-02"), catalog)
}

func buildUserPrompt(input *Input, historyTurns int) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	b.WriteString(input.History.Context(historyTurns).Transcript())
	b.WriteString("\n\n")
	if custom := (models.Question{CustomData: input.CustomData}).CustomDataText(); custom != "" {
		fmt.Fprintf(&b, "Partner context:\n%s\n\n", custom)
	}
	fmt.Fprintf(&b, "Question: %s", strings.TrimSpace(input.Question))
	return b.String()
}
