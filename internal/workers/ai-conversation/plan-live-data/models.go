package planlivedata

import (
	"encoding/json"

	"blitz-workers/internal/models"
)

type Input struct {
	Question   string          `json:"question"`
	League     models.League   `json:"league"`
	CustomData json.RawMessage `json:"customData,omitempty"`
	History    models.History  `json:"history,omitempty"`
}

type Output struct {
	Plan models.LiveDataPlan `json:"plan"`
	// Dropped lists planner calls that did not match a catalog endpoint.
	Dropped []string `json:"dropped,omitempty"`
}

// rawPlan mirrors the model reply before defaults are applied.
type rawPlan struct {
	NeedsLiveData bool              `json:"needs_live_data"`
	Calls         []models.LiveCall `json:"calls"`
	Keys          []string          `json:"keys"`
	Constraints   *struct {
		SortBy    *string                  `json:"sort_by"`
		SortOrder *string                  `json:"sort_order"`
		TopN      *float64                 `json:"top_n"`
		Filters   []map[string]interface{} `json:"filters"`
	} `json:"constraints"`
}

func (r rawPlan) toPlan() models.LiveDataPlan {
	plan := models.LiveDataPlan{
		NeedsLiveData: r.NeedsLiveData,
		Calls:         r.Calls,
		Keys:          r.Keys,
	}
	if c := r.Constraints; c != nil {
		if c.SortBy != nil {
			plan.Constraints.SortBy = *c.SortBy
		}
		if c.SortOrder != nil {
			plan.Constraints.SortOrder = *c.SortOrder
		}
		if c.TopN != nil {
			plan.Constraints.TopN = int(*c.TopN)
		}
		plan.Constraints.Filters = c.Filters
	}
	plan.Normalize()
	return plan
}
