package fetchlivedata

import "fmt"

// outcomeFilterKeys select filters that apply to nested betting outcomes.
var outcomeFilterKeys = []string{"BettingOutcomeTypeID", "BettingOutcomeType"}

// marketMerger combines market groups by BettingMarketID, deduplicating
// sportsbooks and outcomes by their own ids.
type marketMerger struct {
	order   []string
	markets map[string]map[string]interface{}
}

func newMarketMerger() *marketMerger {
	return &marketMerger{markets: make(map[string]map[string]interface{})}
}

func (m *marketMerger) add(markets []interface{}) {
	for _, item := range markets {
		market, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id := idString(market["BettingMarketID"])
		if id == "" {
			continue
		}
		existing, ok := m.markets[id]
		if !ok {
			existing = market
			existing["AvailableSportsbooks"] = mergeByID(nil, market["AvailableSportsbooks"], "SportsbookID")
			existing["BettingOutcomes"] = mergeByID(nil, market["BettingOutcomes"], "BettingOutcomeID")
			m.markets[id] = existing
			m.order = append(m.order, id)
			continue
		}
		existing["AvailableSportsbooks"] = mergeByID(existing["AvailableSportsbooks"], market["AvailableSportsbooks"], "SportsbookID")
		existing["BettingOutcomes"] = mergeByID(existing["BettingOutcomes"], market["BettingOutcomes"], "BettingOutcomeID")
	}
}

// result returns merged markets in first-seen order, without markets that
// have no outcomes.
func (m *marketMerger) result() []interface{} {
	out := make([]interface{}, 0, len(m.order))
	for _, id := range m.order {
		market := m.markets[id]
		if outcomes, _ := market["BettingOutcomes"].([]interface{}); len(outcomes) > 0 {
			out = append(out, market)
		}
	}
	return out
}

func mergeByID(existing, incoming interface{}, idKey string) []interface{} {
	merged, _ := existing.([]interface{})
	if merged == nil {
		merged = []interface{}{}
	}
	seen := make(map[string]bool, len(merged))
	for _, item := range merged {
		if obj, ok := item.(map[string]interface{}); ok {
			seen[idString(obj[idKey])] = true
		}
	}
	items, _ := incoming.([]interface{})
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id := idString(obj[idKey])
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, item)
	}
	return merged
}

// filterMarkets applies market-level filters to markets and outcome-level
// filters to each market's outcomes. Every filter must match. Markets left
// without outcomes are dropped.
func filterMarkets(markets []interface{}, filters []map[string]interface{}) []interface{} {
	if len(filters) == 0 {
		return markets
	}
	var marketFilters, outcomeFilters []map[string]interface{}
	for _, f := range filters {
		if isOutcomeFilter(f) {
			outcomeFilters = append(outcomeFilters, f)
		} else {
			marketFilters = append(marketFilters, f)
		}
	}

	out := make([]interface{}, 0, len(markets))
	for _, item := range markets {
		market, ok := item.(map[string]interface{})
		if !ok || !matchesEvery(market, marketFilters) {
			continue
		}
		outcomes, _ := market["BettingOutcomes"].([]interface{})
		kept := make([]interface{}, 0, len(outcomes))
		for _, o := range outcomes {
			if outcome, ok := o.(map[string]interface{}); ok && matchesEvery(outcome, outcomeFilters) {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			continue
		}
		market["BettingOutcomes"] = kept
		out = append(out, market)
	}
	return out
}

func isOutcomeFilter(f map[string]interface{}) bool {
	for _, k := range outcomeFilterKeys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

func matchesEvery(obj map[string]interface{}, filters []map[string]interface{}) bool {
	for _, f := range filters {
		if !matchesAll(obj, f) {
			return false
		}
	}
	return true
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return fmt.Sprint(v)
}
