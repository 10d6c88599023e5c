package posttweet

import (
	"time"

	"blitz-workers/internal/common/config"
	"blitz-workers/internal/models"
)

type Config struct {
	Timeout   time.Duration
	BotHandle string
	Hashtag   string
	MaxChars  int
	League    models.League
}

func LoadConfig() *Config {
	return &Config{
		Timeout:  2 * time.Minute,
		Hashtag:  "#BlitzAI",
		MaxChars: 280,
		League:   models.LeagueMLB,
	}
}

// NewConfig reads the Twitter section of the application config.
func NewConfig(cfg *config.Config) *Config {
	c := LoadConfig()
	tw := cfg.APIs.Twitter
	c.BotHandle = tw.BotHandle
	if tw.DefaultHashtag != "" {
		c.Hashtag = tw.DefaultHashtag
	}
	if tw.MaxChars > 0 {
		c.MaxChars = tw.MaxChars
	}
	c.League = models.ParseLeague(cfg.Pipeline.DefaultLeague, models.LeagueMLB)
	return c
}
