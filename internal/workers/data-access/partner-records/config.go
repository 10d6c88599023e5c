package partnerrecords

import "time"

type Config struct {
	Timeout time.Duration
	Now     func() time.Time
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
		Now:     time.Now,
	}
}
