package querypostgresql

import "time"

type Config struct {
	Timeout time.Duration
	// QueryTimeout bounds a single statement; it surfaces as QUERY_TIMEOUT.
	QueryTimeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      65 * time.Second,
		QueryTimeout: 60 * time.Second,
	}
}
