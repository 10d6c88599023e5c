package models

import (
	"fmt"
	"strings"
)

type PlanKind string

const (
	PlanNewQuery            PlanKind = "new_query"
	PlanReuseExample        PlanKind = "reuse_example"
	PlanReusePreviousResult PlanKind = "reuse_previous_result"
	PlanNoQueryNeeded       PlanKind = "no_query_needed"
	PlanError               PlanKind = "error"
)

// QueryPlan is the historical planner's tagged union. Kind selects the
// variant and only that variant's fields are populated.
type QueryPlan struct {
	Kind      PlanKind `json:"type"`
	SQL       string   `json:"sql,omitempty"`
	TurnIndex *int     `json:"turn_index,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func NewQueryPlan(sql string) QueryPlan {
	return QueryPlan{Kind: PlanNewQuery, SQL: strings.TrimSpace(sql)}
}

func ReuseExamplePlan(sql string) QueryPlan {
	return QueryPlan{Kind: PlanReuseExample, SQL: strings.TrimSpace(sql)}
}

func ReusePreviousResultPlan(turnIndex int) QueryPlan {
	idx := turnIndex
	return QueryPlan{Kind: PlanReusePreviousResult, TurnIndex: &idx}
}

func NoQueryNeededPlan() QueryPlan {
	return QueryPlan{Kind: PlanNoQueryNeeded}
}

func ErrorPlan(message string) QueryPlan {
	return QueryPlan{Kind: PlanError, Message: message}
}

// Executable reports whether the plan carries SQL for the database.
func (p QueryPlan) Executable() bool {
	return p.Kind == PlanNewQuery || p.Kind == PlanReuseExample
}

// Validate checks that exactly the fields of the selected variant are set.
func (p QueryPlan) Validate() error {
	switch p.Kind {
	case PlanNewQuery, PlanReuseExample:
		if p.SQL == "" || p.TurnIndex != nil || p.Message != "" {
			return fmt.Errorf("%s plan must carry only sql", p.Kind)
		}
	case PlanReusePreviousResult:
		if p.TurnIndex == nil || *p.TurnIndex < 0 || p.SQL != "" || p.Message != "" {
			return fmt.Errorf("%s plan must carry only a non-negative turn_index", p.Kind)
		}
	case PlanNoQueryNeeded:
		if p.SQL != "" || p.TurnIndex != nil || p.Message != "" {
			return fmt.Errorf("%s plan carries no fields", p.Kind)
		}
	case PlanError:
		if p.Message == "" || p.SQL != "" || p.TurnIndex != nil {
			return fmt.Errorf("%s plan must carry only a message", p.Kind)
		}
	default:
		return fmt.Errorf("unknown plan type %q", p.Kind)
	}
	return nil
}

// LiveCall is a single catalog request.
type LiveCall struct {
	Endpoint string                 `json:"endpoint"`
	Params   map[string]interface{} `json:"params"`
}

// Param returns params[key] rendered as a string.
func (c LiveCall) Param(key string) string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

type Constraints struct {
	SortBy    string                   `json:"sort_by"`
	SortOrder string                   `json:"sort_order"`
	TopN      int                      `json:"top_n"`
	Filters   []map[string]interface{} `json:"filters"`
}

func (c Constraints) IsZero() bool {
	return c.SortBy == "" && c.SortOrder == "" && c.TopN == 0 && len(c.Filters) == 0
}

// LiveDataPlan is the live-data planner's output.
type LiveDataPlan struct {
	NeedsLiveData bool        `json:"needs_live_data"`
	Calls         []LiveCall  `json:"calls"`
	Keys          []string    `json:"keys"`
	Constraints   Constraints `json:"constraints"`
}

// NoLiveData is the fail-safe plan.
func NoLiveData() LiveDataPlan {
	return LiveDataPlan{
		Calls:       []LiveCall{},
		Keys:        []string{},
		Constraints: Constraints{Filters: []map[string]interface{}{}},
	}
}

// Normalize enforces the plan invariant: everything is empty when no live
// data is needed, and absent collections become empty otherwise.
func (p *LiveDataPlan) Normalize() {
	if !p.NeedsLiveData {
		*p = NoLiveData()
		return
	}
	if p.Calls == nil {
		p.Calls = []LiveCall{}
	}
	if p.Keys == nil {
		p.Keys = []string{}
	}
	if p.Constraints.Filters == nil {
		p.Constraints.Filters = []map[string]interface{}{}
	}
	for i := range p.Calls {
		if p.Calls[i].Params == nil {
			p.Calls[i].Params = map[string]interface{}{}
		}
	}
	switch strings.ToLower(strings.TrimSpace(p.Constraints.SortOrder)) {
	case "asc", "ascending":
		p.Constraints.SortOrder = "asc"
	default:
		if p.Constraints.SortBy != "" || p.Constraints.SortOrder != "" {
			p.Constraints.SortOrder = "desc"
		}
	}
	if p.Constraints.TopN < 0 {
		p.Constraints.TopN = 0
	}
}
