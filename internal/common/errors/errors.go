// Package errors provides standardized error handling for the answer pipeline
// and its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeClarificationFailed ErrorCode = "CLARIFICATION_FAILED"
	ErrCodeLivePlanInvalid     ErrorCode = "LIVE_PLAN_INVALID"
	ErrCodeLiveFetchFailed     ErrorCode = "LIVE_FETCH_FAILED"

	ErrCodeSimilaritySearchFailed ErrorCode = "SIMILARITY_SEARCH_FAILED"
	ErrCodeQueryPlanFailed        ErrorCode = "QUERY_PLAN_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeQuerySyntaxError         ErrorCode = "QUERY_SYNTAX_ERROR"
	ErrCodeMultiStatementSQL        ErrorCode = "MULTI_STATEMENT_SQL"
	ErrCodeValidationFailed         ErrorCode = "VALIDATION_FAILED"

	ErrCodeLLMTimeout          ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMCompletionFailed ErrorCode = "LLM_COMPLETION_FAILED"
	ErrCodeWebSearchTimeout    ErrorCode = "WEB_SEARCH_TIMEOUT"
	ErrCodeSynthesisFailed     ErrorCode = "SYNTHESIS_FAILED"

	ErrCodeConversationStoreFailed ErrorCode = "CONVERSATION_STORE_FAILED"
	ErrCodeTweetPostFailed         ErrorCode = "TWEET_POST_FAILED"
	ErrCodePublishFailed           ErrorCode = "PUBLISH_FAILED"

	ErrCodeInvalidAPIKey  ErrorCode = "INVALID_API_KEY"
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the canonical error object shared by workers, the
// pipeline and the partner API.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Kind returns the pipeline disposition of the error.
func (e *StandardError) Kind() Kind {
	return KindOf(e.Code)
}

// BPMNError is the payload thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 2. Pipeline Dispositions
// ==========================

// Kind classifies how the orchestrator reacts to a stage failure.
type Kind string

const (
	// KindTransient failures are retried inside the historical-query budget.
	KindTransient Kind = "transient"
	// KindFailOpen failures let the pipeline continue as if the stage said "nothing to do".
	KindFailOpen Kind = "fail_open"
	// KindFailPartial failures drop one source and continue with the rest.
	KindFailPartial Kind = "fail_partial"
	// KindFatal failures abort the turn with a diagnostic payload.
	KindFatal Kind = "fatal"
)

func KindOf(code ErrorCode) Kind {
	switch code {
	case ErrCodeQueryTimeout, ErrCodeQuerySyntaxError, ErrCodeQueryExecutionFailed, ErrCodeValidationFailed:
		return KindTransient
	case ErrCodeClarificationFailed, ErrCodeLivePlanInvalid:
		return KindFailOpen
	case ErrCodeLiveFetchFailed, ErrCodeWebSearchTimeout, ErrCodeSimilaritySearchFailed,
		ErrCodeConversationStoreFailed, ErrCodeQueryPlanFailed, ErrCodeMultiStatementSQL:
		return KindFailPartial
	default:
		return KindFatal
	}
}

// AsStandard extracts a *StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 3. Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewClarificationFailedError(err error) *StandardError {
	return newError(ErrCodeClarificationFailed, "Clarification check failed", err.Error(), false)
}

func NewLivePlanInvalidError(details string) *StandardError {
	return newError(ErrCodeLivePlanInvalid, "Live data plan could not be parsed", details, false)
}

func NewLiveFetchFailedError(label string, err error) *StandardError {
	return newError(ErrCodeLiveFetchFailed, "Live data endpoint failed",
		fmt.Sprintf("source: %s, error: %s", label, err.Error()), false)
}

func NewSimilaritySearchFailedError(err error) *StandardError {
	return newError(ErrCodeSimilaritySearchFailed, "Similar query search failed", err.Error(), true)
}

func NewQueryPlanFailedError(details string) *StandardError {
	return newError(ErrCodeQueryPlanFailed, "Historical query planning failed", details, false)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
}

func NewQueryExecutionFailedError(err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error", err.Error(), true)
}

func NewQueryTimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeQueryTimeout, "Database query timeout",
		fmt.Sprintf("query exceeded %s", timeout), true)
}

func NewQuerySyntaxError(err error) *StandardError {
	return newError(ErrCodeQuerySyntaxError, "Generated SQL was rejected by the database", err.Error(), true)
}

func NewMultiStatementSQLError() *StandardError {
	return newError(ErrCodeMultiStatementSQL, "multiple SQL statements are not allowed", "", false)
}

func NewValidationFailedError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Query results failed validation", details, true)
}

func NewLLMTimeoutError(purpose string) *StandardError {
	return newError(ErrCodeLLMTimeout, "LLM completion timeout", fmt.Sprintf("purpose: %s", purpose), true)
}

func NewLLMCompletionFailedError(purpose string, err error) *StandardError {
	return newError(ErrCodeLLMCompletionFailed, "LLM completion error",
		fmt.Sprintf("purpose: %s, error: %s", purpose, err.Error()), true)
}

func NewWebSearchTimeoutError() *StandardError {
	return newError(ErrCodeWebSearchTimeout, "Web search API timeout", "search call exceeded timeout", false)
}

func NewSynthesisFailedError(err error) *StandardError {
	return newError(ErrCodeSynthesisFailed, "Response synthesis failed", err.Error(), true)
}

func NewConversationStoreFailedError(err error) *StandardError {
	return newError(ErrCodeConversationStoreFailed, "Conversation log write failed", err.Error(), true)
}

func NewTweetPostFailedError(err error) *StandardError {
	return newError(ErrCodeTweetPostFailed, "Tweet could not be posted", err.Error(), true)
}

func NewPublishFailedError(channel string, err error) *StandardError {
	return newError(ErrCodePublishFailed, "Answer publication failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

func NewInvalidAPIKeyError() *StandardError {
	return newError(ErrCodeInvalidAPIKey, "Invalid or missing API key", "", false)
}

func NewInvalidRequestError(details string) *StandardError {
	return newError(ErrCodeInvalidRequest, "Invalid request", details, false)
}

// ==========================
// 4. BPMN Mapping
// ==========================

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSimilaritySearchFailed,
		ErrCodeLLMCompletionFailed,
		ErrCodeSynthesisFailed,
		ErrCodeConversationStoreFailed,
		ErrCodeTweetPostFailed,
		ErrCodePublishFailed:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeQuerySyntaxError:
		return 2

	case ErrCodeLLMTimeout:
		return 1

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorKind":         string(KindOf(stdErr.Code)),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "SQL"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "LLM") || strings.Contains(codeStr, "CLARIFICATION") || strings.Contains(codeStr, "SYNTHESIS"):
		return "AI"
	case strings.Contains(codeStr, "LIVE"):
		return "LIVE_DATA"
	case strings.Contains(codeStr, "TWEET") || strings.Contains(codeStr, "PUBLISH"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
