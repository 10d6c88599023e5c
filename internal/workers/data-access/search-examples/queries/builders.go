package queries

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	ErrMissingIndex  = errors.New("index name is required")
	ErrEmptyQuestion = errors.New("question is required")
)

type ExampleQuery struct {
	Index    string
	Question string
	League   string
	Size     int
}

// IndexMapping is the mapping of the examples index.
var IndexMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"question":   map[string]interface{}{"type": "text", "analyzer": "english"},
			"sql":        map[string]interface{}{"type": "text"},
			"league":     map[string]interface{}{"type": "keyword"},
			"created_at": map[string]interface{}{"type": "date"},
		},
	},
}

func BuildExampleQuery(eq ExampleQuery) (*esapi.SearchRequest, error) {
	if eq.Index == "" {
		return nil, ErrMissingIndex
	}
	question := strings.TrimSpace(eq.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if eq.Size < 1 {
		eq.Size = 10
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  question,
					"fields": []string{"question^3", "sql"},
					"type":   "best_fields",
				},
			},
		},
	}
	if eq.League != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"league": eq.League}},
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	})
	if err != nil {
		return nil, err
	}

	return &esapi.SearchRequest{
		Index: []string{eq.Index},
		Body:  bytes.NewReader(body),
		Size:  &eq.Size,
	}, nil
}
