package executehistoricalquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/validation"
	"blitz-workers/internal/models"
)

const validatorPrompt = `You review SQL results produced for a sports analytics assistant covering %[1]s.
Judge the results against the question and the schema below. Check:
- Completeness: does the query cover the full scope that was asked for (for example all teams rather than a LIMIT-restricted subset)?
- Consistency: are the values realistic and are home and away sides attributed correctly?
- Alignment: do the results answer the question that was asked?

Set isValid to false only when the results are wrong, inaccurate or unreliable. Results that are correct but
could be more complete are valid; put suggestions in recommendations instead.

## Schema
%[2]s

Respond with a JSON object:
{"isValid": bool, "confidenceResultsAreCorrect": 0-100, "answersUserQuestion": bool,
 "issues": [string], "insights": [string], "recommendations": [string],
 "summary": string, "interpretation": string}`

func buildValidatorPrompt(league models.League, schema string) string {
	return fmt.Sprintf(validatorPrompt, strings.ToUpper(string(league)), schema)
}

func buildValidatorUser(question, sql string, result *models.QueryResult, maxChars int) string {
	return fmt.Sprintf("Question: %s\n\nSQL:\n%s\n\nRow count: %d\n\nResults:\n%s",
		strings.TrimSpace(question), sql, result.RowCount, models.CapText(string(result.Results), maxChars))
}

// validate asks the model to judge a result set. Any failure yields a nil
// verdict, which accepts the results.
func (h *Handler) validate(ctx context.Context, input *Input, sql string, result *models.QueryResult) *models.ValidationVerdict {
	schema, _ := h.schemaFor(input.League)
	reply, err := h.llm.Complete(ctx, llm.Request{
		Purpose:   "validate",
		System:    buildValidatorPrompt(input.League, schema),
		User:      buildValidatorUser(input.Question, sql, result, h.config.ValidatorMaxChars),
		ForceJSON: true,
	})
	if err != nil {
		h.logger.Warn("validator unavailable, accepting results", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	verdict, err := parseVerdict(reply)
	if err != nil {
		h.logger.Warn("unusable validator reply, accepting results", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return verdict
}

func parseVerdict(reply string) (*models.ValidationVerdict, error) {
	raw := llm.ExtractJSON(reply)
	if result := validation.VerdictSchema.ValidateJSON([]byte(raw)); !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, result.Error())
	}

	var decoded struct {
		models.ValidationVerdict
		Confidence float64 `json:"confidenceResultsAreCorrect"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	verdict := decoded.ValidationVerdict
	verdict.ConfidenceResultsAreCorrect = int(math.Round(decoded.Confidence))
	verdict.Clamp()
	return &verdict, nil
}

func retryReason(verdict *models.ValidationVerdict) string {
	if len(verdict.Issues) > 0 {
		return strings.Join(verdict.Issues, "; ")
	}
	if verdict.Summary != "" {
		return verdict.Summary
	}
	return fmt.Sprintf("results judged unreliable (confidence %d)", verdict.ConfidenceResultsAreCorrect)
}
