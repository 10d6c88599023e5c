package config

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Pipeline     PipelineConfig          `mapstructure:"pipeline"`
	Catalog      CatalogConfig           `mapstructure:"catalog"`
	APIs         APIsConfig              `mapstructure:"apis"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Partners     PartnersConfig          `mapstructure:"partners"`
	Scheduler    SchedulerConfig         `mapstructure:"scheduler"`
	Server       ServerConfig            `mapstructure:"server"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Tracing      TracingConfig           `mapstructure:"tracing"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	// Postgres is the historical statistics warehouse, opened read-only.
	Postgres PostgresConfig `mapstructure:"postgres"`
	// PartnerPostgres stores the partner call audit and feedback.
	PartnerPostgres PostgresConfig      `mapstructure:"partner_postgres"`
	Elasticsearch   ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis           RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Database         string `mapstructure:"database"`
	User             string `mapstructure:"user"`
	Password         string `mapstructure:"password"`
	MaxConnections   int    `mapstructure:"max_connections"`
	MaxIdle          int    `mapstructure:"max_idle"`
	SSLMode          string `mapstructure:"sslmode"`
	ReadOnly         bool   `mapstructure:"read_only"`
	StatementTimeout int    `mapstructure:"statement_timeout"` // milliseconds
}

func (p PostgresConfig) GetDSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
	var opts []string
	if p.ReadOnly {
		opts = append(opts, "-c default_transaction_read_only=on")
	}
	if p.StatementTimeout > 0 {
		opts = append(opts, fmt.Sprintf("-c statement_timeout=%d", p.StatementTimeout))
	}
	if len(opts) > 0 {
		dsn += fmt.Sprintf(" options='%s'", strings.Join(opts, " "))
	}
	return dsn
}

type ElasticsearchConfig struct {
	Addresses     []string `mapstructure:"addresses"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	URL           string   `mapstructure:"url"`
	ExamplesIndex string   `mapstructure:"examples_index"`
}

func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// PipelineConfig holds the answer pipeline's caps and budgets.
type PipelineConfig struct {
	DefaultLeague        string `mapstructure:"default_league"`
	HistoryTurns         int    `mapstructure:"history_turns"`
	QueryTimeout         int    `mapstructure:"query_timeout"` // milliseconds
	MaxQueryRetries      int    `mapstructure:"max_query_retries"`
	MinConfidence        int    `mapstructure:"min_confidence"`
	ValidatorMaxChars    int    `mapstructure:"validator_max_chars"`
	SynthMaxChars        int    `mapstructure:"synth_max_chars"`
	SimilarExamples      int    `mapstructure:"similar_examples"`
	TrendLookbackDays    int    `mapstructure:"trend_lookback_days"`
	LivePacing           int    `mapstructure:"live_pacing"` // milliseconds
	LiveMaxConcurrency   int    `mapstructure:"live_max_concurrency"`
	WebSearchEnabled     bool   `mapstructure:"web_search_enabled"`
	StructuredOutput     bool   `mapstructure:"structured_output"`
	InsightCacheTTL      int    `mapstructure:"insight_cache_ttl"`      // seconds
	ConversationTTLHours int    `mapstructure:"conversation_ttl_hours"` // 0 keeps forever
}

type CatalogConfig struct {
	EndpointsPath string `mapstructure:"endpoints_path"`
	SchemaDir     string `mapstructure:"schema_dir"`
}

type APIsConfig struct {
	LLM struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		MaxRetries  int     `mapstructure:"max_retries"`
		Timeout     int     `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"llm"`

	WebSearch struct {
		BaseURL    string `mapstructure:"base_url"`
		APIKey     string `mapstructure:"api_key"`
		MaxResults int    `mapstructure:"max_results"`
		ScrapeTop  int    `mapstructure:"scrape_top"`
		Timeout    int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"web_search"`

	SportsData struct {
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"sportsdata"`

	Twitter struct {
		BaseURL        string `mapstructure:"base_url"`
		BearerToken    string `mapstructure:"bearer_token"`
		BotHandle      string `mapstructure:"bot_handle"`
		DefaultHashtag string `mapstructure:"default_hashtag"`
		MaxChars       int    `mapstructure:"max_chars"`
		Timeout        int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"twitter"`
}

type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool     `mapstructure:"enabled"`
			FromEmail string   `mapstructure:"from_email"`
			ReportTo  []string `mapstructure:"report_to"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

type PartnersConfig struct {
	// APIKeys maps an API key to the partner id it authenticates.
	APIKeys        map[string]string `mapstructure:"api_keys"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
}

type SchedulerConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Jobs    []ScheduledJob `mapstructure:"jobs"`
}

type ScheduledJob struct {
	Name     string `mapstructure:"name"`
	Spec     string `mapstructure:"spec"`
	Question string `mapstructure:"question"`
	League   string `mapstructure:"league"`
	Publish  bool   `mapstructure:"publish"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RedactedURL strips credentials from a URL before it is logged.
func RedactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	q := u.Query()
	for _, k := range []string{"key", "api_key", "apikey"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
