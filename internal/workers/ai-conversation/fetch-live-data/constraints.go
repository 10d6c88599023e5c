package fetchlivedata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"blitz-workers/internal/models"
)

// applyConstraints filters, sorts and truncates a list payload. Rows are kept
// when they match any filter object; a filter object matches when every key
// does.
func applyConstraints(rows []interface{}, c models.Constraints, withFilters bool) []interface{} {
	if withFilters && len(c.Filters) > 0 {
		kept := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			obj, ok := row.(map[string]interface{})
			if !ok {
				continue
			}
			for _, f := range c.Filters {
				if matchesAll(obj, f) {
					kept = append(kept, row)
					break
				}
			}
		}
		rows = kept
	}

	if c.SortBy != "" {
		sortRows(rows, c.SortBy, c.SortOrder != "asc")
	}

	if c.TopN > 0 && len(rows) > c.TopN {
		rows = rows[:c.TopN]
	}
	return rows
}

func matchesAll(obj map[string]interface{}, filter map[string]interface{}) bool {
	for k, want := range filter {
		if !valuesEqual(obj[k], want) {
			return false
		}
	}
	return true
}

// valuesEqual compares JSON scalars, treating numbers and numeric strings as equal.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// sortRows orders rows by key. Rows without the key, or with null, sort last
// in both directions.
func sortRows(rows []interface{}, key string, desc bool) {
	value := func(row interface{}) interface{} {
		if obj, ok := row.(map[string]interface{}); ok {
			return obj[key]
		}
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := value(rows[i]), value(rows[j])
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		cmp := compareValues(a, b)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b interface{}) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// project keeps only keys of each object row.
func project(rows []interface{}, keys []string) []interface{} {
	out := make([]interface{}, len(rows))
	for i, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			out[i] = row
			continue
		}
		slim := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			if v, ok := obj[k]; ok {
				slim[k] = v
			}
		}
		out[i] = slim
	}
	return out
}

// camelizeKeys rewrites snake_case keys as CamelCase, with player_id as PlayerID.
func camelizeKeys(rows []interface{}) []interface{} {
	out := make([]interface{}, len(rows))
	for i, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			out[i] = row
			continue
		}
		converted := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			converted[camelize(k)] = v
		}
		out[i] = converted
	}
	return out
}

func camelize(key string) string {
	if key == "player_id" {
		return "PlayerID"
	}
	var b strings.Builder
	for _, word := range strings.Split(key, "_") {
		if word == "" {
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(strings.ToLower(word[1:]))
	}
	return b.String()
}
