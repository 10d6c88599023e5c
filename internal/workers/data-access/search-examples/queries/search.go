package queries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

type Hit struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Question string  `json:"question"`
	SQL      string  `json:"sql"`
	League   string  `json:"league"`
}

type SearchResult struct {
	Hits      []Hit
	TotalHits int64
	MaxScore  float64
	Took      int64
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		MaxScore *float64 `json:"max_score"`
		Hits     []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Question string `json:"question"`
				SQL      string `json:"sql"`
				League   string `json:"league"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func Search(ctx context.Context, esClient *elasticsearch.Client, eq ExampleQuery) (*SearchResult, error) {
	req, err := BuildExampleQuery(eq)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := req.Do(ctx, esClient)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search query failed: %s", res.String())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &SearchResult{
		Hits:      make([]Hit, 0, len(r.Hits.Hits)),
		TotalHits: r.Hits.Total.Value,
		Took:      time.Since(start).Milliseconds(),
	}
	if r.Hits.MaxScore != nil {
		result.MaxScore = *r.Hits.MaxScore
	}
	for _, h := range r.Hits.Hits {
		if h.Source.SQL == "" {
			continue
		}
		result.Hits = append(result.Hits, Hit{
			ID:       h.ID,
			Score:    h.Score,
			Question: h.Source.Question,
			SQL:      h.Source.SQL,
			League:   h.Source.League,
		})
	}
	return result, nil
}
