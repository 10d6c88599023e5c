package fetchlivedata

import "time"

type Config struct {
	Timeout       time.Duration
	SportsDataKey string
	// BakerKey authenticates baker-api hosts; SportsDataKey is used when empty.
	BakerKey          string
	TrendLookbackDays int
	MaxConcurrency    int
	SnapshotTTL       time.Duration
	Now               func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout:           45 * time.Second,
		TrendLookbackDays: 3,
		MaxConcurrency:    4,
		SnapshotTTL:       10 * time.Minute,
		Now:               time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Config) keyFor(template string) string {
	if c.BakerKey != "" && isBakerHost(template) {
		return c.BakerKey
	}
	return c.SportsDataKey
}
