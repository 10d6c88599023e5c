package publishanswer

import (
	"fmt"
	"net/mail"
	"time"

	"blitz-workers/internal/common/config"
)

const taskType = "publish-answer"

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SNSEnabled    bool          `mapstructure:"sns_enabled"`
	TopicARN      string        `mapstructure:"topic_arn"`
	SESEnabled    bool          `mapstructure:"ses_enabled"`
	FromEmail     string        `mapstructure:"from_email"`
	ReportTo      []string      `mapstructure:"report_to"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
		SubjectPrefix: "Blitz report",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.SNSEnabled && c.TopicARN == "" {
		return fmt.Errorf("topic_arn is required when sns is enabled")
	}
	if c.SESEnabled {
		if _, err := mail.ParseAddress(c.FromEmail); err != nil {
			return fmt.Errorf("from_email must be a valid address")
		}
	}
	if !c.SNSEnabled && !c.SESEnabled {
		return fmt.Errorf("at least one of sns or ses must be enabled")
	}
	return nil
}

// createConfigFromAppConfig prefers custom, then builds from the application
// configuration.
func createConfigFromAppConfig(appConfig *config.Config, custom *Config) *Config {
	if custom != nil {
		return custom
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if worker, ok := appConfig.Workers[taskType]; ok {
		cfg.Enabled = worker.Enabled
		if worker.MaxJobsActive > 0 {
			cfg.MaxJobsActive = worker.MaxJobsActive
		}
		if worker.Timeout > 0 {
			cfg.Timeout = config.GetDuration(worker.Timeout)
		}
	}

	aws := appConfig.Integrations.AWS
	cfg.SNSEnabled = aws.SNS.Enabled
	cfg.TopicARN = aws.SNS.TopicARN
	cfg.SESEnabled = aws.SES.Enabled
	cfg.FromEmail = aws.SES.FromEmail
	cfg.ReportTo = append([]string(nil), aws.SES.ReportTo...)
	return cfg
}
