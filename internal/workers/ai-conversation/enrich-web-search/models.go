package enrichwebsearch

import "blitz-workers/internal/models"

type Input struct {
	Question string        `json:"question"`
	League   models.League `json:"league"`
}

type Output struct {
	Query   string             `json:"query"`
	Results []models.WebResult `json:"webResults"`
	// TimedOut marks an empty result caused by the search deadline.
	TimedOut bool `json:"timedOut,omitempty"`
}

type organicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Source   string `json:"source"`
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
	Error          string          `json:"error"`
}

type scoredResult struct {
	models.WebResult
	relevance float64
}
