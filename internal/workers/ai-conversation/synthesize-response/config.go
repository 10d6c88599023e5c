package synthesizeresponse

import "time"

type Config struct {
	Timeout        time.Duration
	MaxResultChars int
	HistoryTurns   int
	MaxTokens      int
	Temperature    float64
	TweetMaxChars  int
	DefaultHashtag string
	Now            func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout:        60 * time.Second,
		MaxResultChars: 15000,
		HistoryTurns:   10,
		MaxTokens:      2048,
		Temperature:    0.3,
		TweetMaxChars:  280,
		DefaultHashtag: "#BlitzAI",
		Now:            time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
