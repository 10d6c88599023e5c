package enrichwebsearch

import "time"

type Config struct {
	SearchAPIBaseURL string
	SearchAPIKey     string
	Engine           string
	Timeout          time.Duration
	MaxResults       int
	// ScrapeTop pages without a snippet are fetched and summarised.
	ScrapeTop    int
	MinRelevance float64
}

func LoadConfig() *Config {
	return &Config{
		SearchAPIBaseURL: "https://serpapi.com/search",
		Engine:           "google",
		Timeout:          10 * time.Second,
		MaxResults:       5,
		ScrapeTop:        2,
		MinRelevance:     1.0,
	}
}
