package validation

func stringArray() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
}

// ClarificationSchema is the forced-JSON reply of the clarification gate.
var ClarificationSchema = MustCompile("clarification", map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"type"},
	"properties": map[string]interface{}{
		"type": map[string]interface{}{"type": "string", "enum": []interface{}{"answer", "clarify", "proceed"}},
		"text": map[string]interface{}{"type": []interface{}{"string", "null"}},
	},
})

// LiveDataPlanSchema accepts partial plans; defaults are applied afterwards.
var LiveDataPlanSchema = MustCompile("live_data_plan", map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"needs_live_data"},
	"properties": map[string]interface{}{
		"needs_live_data": map[string]interface{}{"type": "boolean"},
		"calls": map[string]interface{}{
			"type": []interface{}{"array", "null"},
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"endpoint"},
				"properties": map[string]interface{}{
					"endpoint": map[string]interface{}{"type": "string", "minLength": 1},
					"params":   map[string]interface{}{"type": []interface{}{"object", "null"}},
				},
			},
		},
		"keys": map[string]interface{}{"type": []interface{}{"array", "null"}, "items": map[string]interface{}{"type": "string"}},
		"constraints": map[string]interface{}{
			"type": []interface{}{"object", "null"},
			"properties": map[string]interface{}{
				"sort_by":    map[string]interface{}{"type": []interface{}{"string", "null"}},
				"sort_order": map[string]interface{}{"type": []interface{}{"string", "null"}},
				"top_n":      map[string]interface{}{"type": []interface{}{"integer", "null"}},
				"filters": map[string]interface{}{
					"type":  []interface{}{"array", "null"},
					"items": map[string]interface{}{"type": "object"},
				},
			},
		},
	},
})

// QueryPlanSchema is the tagged-union encoding of the historical plan.
var QueryPlanSchema = MustCompile("query_plan", map[string]interface{}{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []interface{}{"type"},
	"properties": map[string]interface{}{
		"type": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"new_query", "reuse_example", "reuse_previous_result", "no_query_needed"},
		},
		"sql":        map[string]interface{}{"type": []interface{}{"string", "null"}},
		"turn_index": map[string]interface{}{"type": []interface{}{"integer", "null"}, "minimum": 0},
	},
	"allOf": []interface{}{
		map[string]interface{}{
			"if": map[string]interface{}{
				"properties": map[string]interface{}{"type": map[string]interface{}{"enum": []interface{}{"new_query", "reuse_example"}}},
			},
			"then": map[string]interface{}{
				"required":   []interface{}{"sql"},
				"properties": map[string]interface{}{"sql": map[string]interface{}{"type": "string", "minLength": 1}},
			},
		},
		map[string]interface{}{
			"if": map[string]interface{}{
				"properties": map[string]interface{}{"type": map[string]interface{}{"const": "reuse_previous_result"}},
			},
			"then": map[string]interface{}{
				"required":   []interface{}{"turn_index"},
				"properties": map[string]interface{}{"turn_index": map[string]interface{}{"type": "integer"}},
			},
		},
	},
})

// VerdictSchema is the validator's reply.
var VerdictSchema = MustCompile("validation_verdict", map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"isValid", "confidenceResultsAreCorrect"},
	"properties": map[string]interface{}{
		"isValid":                     map[string]interface{}{"type": "boolean"},
		"confidenceResultsAreCorrect": map[string]interface{}{"type": "number"},
		"answersUserQuestion":         map[string]interface{}{"type": "boolean"},
		"issues":                      stringArray(),
		"insights":                    stringArray(),
		"recommendations":             stringArray(),
		"summary":                     map[string]interface{}{"type": "string"},
		"interpretation":              map[string]interface{}{"type": "string"},
	},
})

// ResponsePayloadSchema is the synthesizer's reply for JSON channels.
var ResponsePayloadSchema = MustCompile("response_payload", map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"response"},
	"properties": map[string]interface{}{
		"response":    map[string]interface{}{"type": "string"},
		"explanation": map[string]interface{}{"type": []interface{}{"string", "null"}},
		"links": map[string]interface{}{
			"type": []interface{}{"array", "null"},
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"type", "name"},
				"properties": map[string]interface{}{
					"type": map[string]interface{}{"type": "string"},
					"name": map[string]interface{}{"type": "string"},
				},
			},
		},
	},
})

// RerankSchema is the similarity re-rank reply: example ids, best first.
var RerankSchema = MustCompile("rerank", map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"ids"},
	"properties": map[string]interface{}{
		"ids": stringArray(),
	},
})
