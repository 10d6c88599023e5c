package clarificationgate

import "time"

type Config struct {
	Timeout time.Duration
	// StructuredOutput asks the model for a JSON decision; prefix parsing is
	// still used when the reply is not valid JSON.
	StructuredOutput bool
	HistoryTurns     int
	Now              func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout:          30 * time.Second,
		StructuredOutput: true,
		HistoryTurns:     10,
		Now:              time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
