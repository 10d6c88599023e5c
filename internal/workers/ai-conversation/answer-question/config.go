package answerquestion

import "time"

type Config struct {
	// Timeout bounds the whole turn, both branches and synthesis included.
	Timeout        time.Duration
	MaxQuestionLen int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:        2 * time.Minute,
		MaxQuestionLen: 2000,
	}
}
