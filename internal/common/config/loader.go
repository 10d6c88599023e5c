package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return decode(v)
}

func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		// An unset variable expands to "" so the env fallbacks and
		// required-field checks below still apply.
		if expanded := os.ExpandEnv(strVal); expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	setFromEnv(&cfg.APIs.LLM.APIKey, "LLM_API_KEY")
	setFromEnv(&cfg.APIs.WebSearch.APIKey, "SERPAPI_API_KEY")
	setFromEnv(&cfg.APIs.SportsData.APIKey, "SPORTSDATA_API_KEY")
	setFromEnv(&cfg.APIs.Twitter.BearerToken, "TWITTER_BEARER_TOKEN")
	setFromEnv(&cfg.Database.Postgres.User, "DB_USER")
	setFromEnv(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setFromEnv(&cfg.Database.PartnerPostgres.User, "PARTNER_DB_USER")
	setFromEnv(&cfg.Database.PartnerPostgres.Password, "PARTNER_DB_PASSWORD")

	// PARTNER_API_KEYS="key1:partnerA,key2:partnerB"
	if len(cfg.Partners.APIKeys) == 0 {
		if raw := os.Getenv("PARTNER_API_KEYS"); raw != "" {
			cfg.Partners.APIKeys = parseAPIKeys(raw)
		}
	}
}

func setFromEnv(dst *string, name string) {
	if *dst != "" {
		return
	}
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, partner, found := strings.Cut(entry, ":")
		if !found {
			partner = key
		}
		keys[strings.TrimSpace(key)] = strings.TrimSpace(partner)
	}
	return keys
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "blitz-workers"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	for _, pg := range []*PostgresConfig{&cfg.Database.Postgres, &cfg.Database.PartnerPostgres} {
		if pg.Port == 0 {
			pg.Port = 5432
		}
		if pg.MaxConnections == 0 {
			pg.MaxConnections = 25
		}
		if pg.MaxIdle == 0 {
			pg.MaxIdle = 5
		}
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.ExamplesIndex == "" {
		cfg.Database.Elasticsearch.ExamplesIndex = "query_examples"
	}

	p := &cfg.Pipeline
	if p.DefaultLeague == "" {
		p.DefaultLeague = "mlb"
	}
	if p.HistoryTurns == 0 {
		p.HistoryTurns = 10
	}
	if p.QueryTimeout == 0 {
		p.QueryTimeout = 60000
	}
	if p.MaxQueryRetries == 0 {
		p.MaxQueryRetries = 2
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = 40
	}
	if p.ValidatorMaxChars == 0 {
		p.ValidatorMaxChars = 5000
	}
	if p.SynthMaxChars == 0 {
		p.SynthMaxChars = 15000
	}
	if p.SimilarExamples == 0 {
		p.SimilarExamples = 3
	}
	if p.TrendLookbackDays == 0 {
		p.TrendLookbackDays = 3
	}
	if p.LivePacing == 0 {
		p.LivePacing = 250
	}
	if p.LiveMaxConcurrency == 0 {
		p.LiveMaxConcurrency = 4
	}
	if p.InsightCacheTTL == 0 {
		p.InsightCacheTTL = 300
	}

	if cfg.Catalog.EndpointsPath == "" {
		cfg.Catalog.EndpointsPath = "configs/endpoints.yaml"
	}
	if cfg.Catalog.SchemaDir == "" {
		cfg.Catalog.SchemaDir = "configs/schema"
	}

	if cfg.APIs.LLM.BaseURL == "" {
		cfg.APIs.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIs.LLM.Model == "" {
		cfg.APIs.LLM.Model = "gpt-4o"
	}
	if cfg.APIs.LLM.MaxTokens == 0 {
		cfg.APIs.LLM.MaxTokens = 2048
	}
	if cfg.APIs.LLM.MaxRetries == 0 {
		cfg.APIs.LLM.MaxRetries = 2
	}
	if cfg.APIs.LLM.Timeout == 0 {
		cfg.APIs.LLM.Timeout = 60000
	}
	if cfg.APIs.WebSearch.BaseURL == "" {
		cfg.APIs.WebSearch.BaseURL = "https://serpapi.com/search"
	}
	if cfg.APIs.WebSearch.MaxResults == 0 {
		cfg.APIs.WebSearch.MaxResults = 5
	}
	if cfg.APIs.WebSearch.Timeout == 0 {
		cfg.APIs.WebSearch.Timeout = 10000
	}
	if cfg.APIs.SportsData.Timeout == 0 {
		cfg.APIs.SportsData.Timeout = 15000
	}
	if cfg.APIs.Twitter.BaseURL == "" {
		cfg.APIs.Twitter.BaseURL = "https://api.twitter.com"
	}
	if cfg.APIs.Twitter.MaxChars == 0 {
		cfg.APIs.Twitter.MaxChars = 280
	}
	if cfg.APIs.Twitter.DefaultHashtag == "" {
		cfg.APIs.Twitter.DefaultHashtag = "#BlitzAI"
	}
	if cfg.APIs.Twitter.Timeout == 0 {
		cfg.APIs.Twitter.Timeout = 10000
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.App.Name
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.APIs.LLM.APIKey == "" {
		return fmt.Errorf("apis.llm.api_key is required")
	}
	if cfg.APIs.SportsData.APIKey == "" {
		return fmt.Errorf("apis.sportsdata.api_key is required")
	}
	if cfg.Pipeline.MaxQueryRetries < 0 || cfg.Pipeline.MaxQueryRetries > 2 {
		return fmt.Errorf("pipeline.max_query_retries must be between 0 and 2")
	}
	for _, job := range cfg.Scheduler.Jobs {
		if job.Spec == "" || job.Question == "" {
			return fmt.Errorf("scheduler job %q needs spec and question", job.Name)
		}
	}
	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
