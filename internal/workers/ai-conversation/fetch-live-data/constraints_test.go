package fetchlivedata

import (
	"testing"

	"blitz-workers/internal/models"

	"github.com/stretchr/testify/assert"
)

func rowsOf(values ...interface{}) []interface{} {
	rows := make([]interface{}, len(values))
	for i, v := range values {
		rows[i] = map[string]interface{}{"ID": float64(i), "V": v}
	}
	return rows
}

func idsOf(rows []interface{}) []float64 {
	ids := make([]float64, len(rows))
	for i, r := range rows {
		ids[i] = r.(map[string]interface{})["ID"].(float64)
	}
	return ids
}

func TestApplyConstraints_SortPutsNullsLast(t *testing.T) {
	tests := []struct {
		name     string
		order    string
		expected []float64
	}{
		{name: "descending", order: "desc", expected: []float64{2, 0, 3, 1}},
		{name: "ascending", order: "asc", expected: []float64{3, 0, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := rowsOf(float64(5), nil, float64(9), float64(1))
			out := applyConstraints(rows, models.Constraints{SortBy: "V", SortOrder: tt.order}, true)
			assert.Equal(t, tt.expected, idsOf(out))
		})
	}
}

func TestApplyConstraints_FiltersMatchAnyObject(t *testing.T) {
	rows := []interface{}{
		map[string]interface{}{"Team": "NYY", "Position": "RF"},
		map[string]interface{}{"Team": "BOS", "Position": "3B"},
		map[string]interface{}{"Team": "NYY", "Position": "C"},
		"not an object",
	}
	filters := []map[string]interface{}{
		{"Team": "NYY", "Position": "RF"},
		{"Team": "BOS"},
	}

	out := applyConstraints(rows, models.Constraints{Filters: filters}, true)

	assert.Len(t, out, 2)
	assert.Len(t, applyConstraints(rows, models.Constraints{Filters: filters}, false), 4)
}

func TestApplyConstraints_TopN(t *testing.T) {
	rows := rowsOf(1.0, 2.0, 3.0)
	assert.Len(t, applyConstraints(rows, models.Constraints{TopN: 2}, true), 2)
	assert.Len(t, applyConstraints(rows, models.Constraints{TopN: 10}, true), 3)
	assert.Len(t, applyConstraints(rows, models.Constraints{}, true), 3)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b     interface{}
		expected bool
	}{
		{float64(1), float64(1), true},
		{float64(1), "1", true},
		{"1.0", float64(1), true},
		{float64(1), float64(2), false},
		{"NYY", "NYY", true},
		{"NYY", "nyy", false},
		{true, true, true},
		{true, "true", false},
		{nil, nil, true},
		{nil, float64(0), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, valuesEqual(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}

func TestCamelize(t *testing.T) {
	assert.Equal(t, "PlayerID", camelize("player_id"))
	assert.Equal(t, "HomeRunsAvg", camelize("home_runs_avg"))
	assert.Equal(t, "Team", camelize("team"))
}

func TestMarketMerger_DedupesNestedLists(t *testing.T) {
	merger := newMarketMerger()
	merger.add([]interface{}{
		map[string]interface{}{
			"BettingMarketID":      float64(1),
			"AvailableSportsbooks": []interface{}{map[string]interface{}{"SportsbookID": float64(7)}},
			"BettingOutcomes":      []interface{}{map[string]interface{}{"BettingOutcomeID": float64(1)}},
		},
	})
	merger.add([]interface{}{
		map[string]interface{}{
			"BettingMarketID":      float64(1),
			"AvailableSportsbooks": []interface{}{map[string]interface{}{"SportsbookID": float64(7)}},
			"BettingOutcomes":      []interface{}{map[string]interface{}{"BettingOutcomeID": float64(1)}, map[string]interface{}{"BettingOutcomeID": float64(2)}},
		},
		map[string]interface{}{"BettingMarketID": float64(2)},
	})

	out := merger.result()

	assert.Len(t, out, 1)
	market := out[0].(map[string]interface{})
	assert.Len(t, market["AvailableSportsbooks"], 1)
	assert.Len(t, market["BettingOutcomes"], 2)
}
