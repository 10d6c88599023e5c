package models

// PipelineState names a step of the answer state machine.
type PipelineState string

const (
	StateStart                  PipelineState = "START"
	StateClarifyCheck           PipelineState = "CLARIFY_CHECK"
	StateAnswered               PipelineState = "ANSWERED"
	StateClarificationRequested PipelineState = "CLARIFICATION_REQUESTED"
	StateLivePlan               PipelineState = "LIVE_PLAN"
	StateLiveFetch              PipelineState = "LIVE_FETCH"
	StateWebSearch              PipelineState = "WEB_SEARCH"
	StateQueryPlan              PipelineState = "QUERY_PLAN"
	StateQueryExecValidate      PipelineState = "QUERY_EXEC_VALIDATE"
	StateSynthesize             PipelineState = "SYNTHESIZE"
	StateDone                   PipelineState = "DONE"
)

type OutcomeType string

const (
	OutcomeAnswered      OutcomeType = "answered"
	OutcomeClarification OutcomeType = "clarification"
	OutcomeResponse      OutcomeType = "response"
	OutcomeError         OutcomeType = "error"
)

type TurnError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TurnOutcome is what the orchestrator hands back to a calling surface.
type TurnOutcome struct {
	TurnID        string                 `json:"turnId"`
	Outcome       OutcomeType            `json:"outcome"`
	Payload       *ResponsePayload       `json:"payload,omitempty"`
	Clarification string                 `json:"clarification,omitempty"`
	QueryPlan     *QueryPlan             `json:"queryPlan,omitempty"`
	QueryResult   *QueryResult           `json:"queryResult,omitempty"`
	Verdict       *ValidationVerdict     `json:"verdict,omitempty"`
	LiveData      map[string]interface{} `json:"liveData,omitempty"`
	WebResults    []WebResult            `json:"webResults,omitempty"`
	Executions    int                    `json:"executions"`
	Trace         []PipelineState        `json:"trace"`
	Error         *TurnError             `json:"error,omitempty"`
}

// Fatal reports whether the turn was aborted.
func (o *TurnOutcome) Fatal() bool {
	return o != nil && o.Error != nil && o.Error.Kind == "fatal"
}

// SQL returns the executed or reused query text, if any.
func (o *TurnOutcome) SQL() string {
	if o == nil || o.QueryResult == nil {
		return ""
	}
	return o.QueryResult.Query
}
