package executehistoricalquery

import "time"

type Config struct {
	Timeout time.Duration
	// MaxRetries bounds re-planned executions after the first one.
	MaxRetries        int
	MinConfidence     int
	ValidatorMaxChars int
	HistoryTurns      int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:           4 * time.Minute,
		MaxRetries:        2,
		MinConfidence:     40,
		ValidatorMaxChars: 5000,
		HistoryTurns:      10,
	}
}
