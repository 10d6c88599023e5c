package pipeline

import (
	"time"

	"blitz-workers/internal/common/config"
	"blitz-workers/internal/models"
)

type Config struct {
	HistoryTurns int
	// WebSearch runs the web search branch alongside the data branches.
	WebSearch     bool
	DefaultLeague models.League
	// StoreTimeout bounds the conversation log write at DONE.
	StoreTimeout time.Duration
	Now          func() time.Time
}

func NewConfig(cfg *config.Config) *Config {
	return &Config{
		HistoryTurns:  cfg.Pipeline.HistoryTurns,
		WebSearch:     cfg.Pipeline.WebSearchEnabled && cfg.APIs.WebSearch.APIKey != "",
		DefaultLeague: models.ParseLeague(cfg.Pipeline.DefaultLeague, models.LeagueMLB),
		StoreTimeout:  3 * time.Second,
	}
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}
