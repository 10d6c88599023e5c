package planhistoricalquery

import "time"

type Config struct {
	Timeout          time.Duration
	StructuredOutput bool
	HistoryTurns     int
	SimilarExamples  int
	Now              func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout:          45 * time.Second,
		StructuredOutput: true,
		HistoryTurns:     10,
		SimilarExamples:  3,
		Now:              time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
