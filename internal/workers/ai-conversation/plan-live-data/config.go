package planlivedata

import "time"

type Config struct {
	Timeout      time.Duration
	HistoryTurns int
	Now          func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      30 * time.Second,
		HistoryTurns: 10,
		Now:          time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
