package searchexamples

import "time"

type Config struct {
	Timeout time.Duration
	Index   string
	// Candidates is how many hits are fetched before re-ranking.
	Candidates int
	TopK       int
	Rerank     bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:    10 * time.Second,
		Index:      "query_examples",
		Candidates: 10,
		TopK:       3,
		Rerank:     true,
	}
}
