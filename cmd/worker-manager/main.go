// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"blitz-workers/internal/api"
	"blitz-workers/internal/common/auth"
	"blitz-workers/internal/common/aws"
	"blitz-workers/internal/common/camunda"
	"blitz-workers/internal/common/config"
	"blitz-workers/internal/common/database"
	commonhttp "blitz-workers/internal/common/http"
	"blitz-workers/internal/common/llm"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/common/metrics"
	"blitz-workers/internal/common/observability"
	"blitz-workers/internal/common/twitter"
	"blitz-workers/internal/conversation"
	"blitz-workers/internal/pipeline"
	"blitz-workers/internal/scheduler"
	"blitz-workers/pkg/registry"

	// Pipeline stage workers
	aq "blitz-workers/internal/workers/ai-conversation/answer-question"
	cg "blitz-workers/internal/workers/ai-conversation/clarification-gate"
	ews "blitz-workers/internal/workers/ai-conversation/enrich-web-search"
	ehq "blitz-workers/internal/workers/ai-conversation/execute-historical-query"
	fld "blitz-workers/internal/workers/ai-conversation/fetch-live-data"
	phq "blitz-workers/internal/workers/ai-conversation/plan-historical-query"
	pld "blitz-workers/internal/workers/ai-conversation/plan-live-data"
	sr "blitz-workers/internal/workers/ai-conversation/synthesize-response"

	// Data access workers
	pr "blitz-workers/internal/workers/data-access/partner-records"
	qp "blitz-workers/internal/workers/data-access/query-postgresql"
	se "blitz-workers/internal/workers/data-access/search-examples"

	// Communication workers
	pt "blitz-workers/internal/workers/communication/post-tweet"
	pa "blitz-workers/internal/workers/communication/publish-answer"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// infra holds the connections every component shares.
type infra struct {
	historical *database.PostgresClient
	partners   *database.PostgresClient
	es         *database.ElasticsearchClient
	redis      *database.RedisClient
}

func (i *infra) Close() {
	if i.historical != nil {
		_ = i.historical.Close()
	}
	if i.partners != nil {
		_ = i.partners.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithFile(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	log.Info("Starting worker manager...", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.NewTracing(cfg.Tracing)
	if err != nil {
		zapLog.Fatal("tracing setup failed", zap.Error(err))
	}
	obs := observability.New(cfg.Tracing.ServiceName)

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("infrastructure unavailable", zap.Error(err))
	}
	defer deps.Close()

	if err := pr.EnsureSchema(ctx, deps.partners.GetDB()); err != nil {
		zapLog.Fatal("partner schema migration failed", zap.Error(err))
	}

	catalog, err := registry.Load(cfg.Catalog.EndpointsPath)
	if err != nil {
		zapLog.Fatal("endpoint catalog load failed", zap.Error(err))
	}
	schemaDocs, err := registry.LoadSchemaDocs(cfg.Catalog.SchemaDir)
	if err != nil {
		zapLog.Fatal("schema docs load failed", zap.Error(err))
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.APIs.LLM.BaseURL,
		APIKey:      cfg.APIs.LLM.APIKey,
		Model:       cfg.APIs.LLM.Model,
		Temperature: cfg.APIs.LLM.Temperature,
		MaxTokens:   cfg.APIs.LLM.MaxTokens,
		MaxRetries:  cfg.APIs.LLM.MaxRetries,
		Timeout:     config.GetDuration(cfg.APIs.LLM.Timeout),
	}, log)
	llmClient.OnComplete(func(purpose, status string, elapsed time.Duration) {
		metrics.LLMRequests.WithLabelValues(purpose, status).Inc()
	})

	// --- Pipeline stages ---
	gate := cg.NewHandler(clarificationConfig(cfg), llmClient, &clarificationGateLoggerAdapter{log})
	livePlanner := pld.NewHandler(livePlanConfig(cfg), llmClient, catalog, &planLiveDataLoggerAdapter{log})
	liveFetcher := fld.NewHandler(
		liveFetchConfig(cfg),
		catalog,
		commonhttp.NewClient(config.GetDuration(cfg.APIs.SportsData.Timeout), config.GetDuration(cfg.Pipeline.LivePacing)),
		&fetchLiveDataLoggerAdapter{log},
	)
	webSearch := ews.NewHandler(webSearchConfig(cfg), &enrichWebSearchLoggerAdapter{log})
	exampleSearch := se.NewHandler(searchExamplesConfig(cfg), deps.es.Client, llmClient, log)
	queryPlanner := phq.NewHandler(queryPlanConfig(cfg), llmClient, exampleSearch, schemaDocs, &planHistoricalQueryLoggerAdapter{log})
	sqlRunner := qp.NewHandler(queryPostgresConfig(cfg), deps.historical.GetDB(), log)
	executor := ehq.NewHandler(executeConfig(cfg), sqlRunner, queryPlanner, llmClient, schemaDocs, &executeHistoricalQueryLoggerAdapter{log})
	synthesizer := sr.NewHandler(synthesizeConfig(cfg), llmClient, &synthesizeResponseLoggerAdapter{log})

	store := conversation.NewStore(&conversation.Config{
		TTL:      time.Duration(cfg.Pipeline.ConversationTTLHours) * time.Hour,
		MaxTurns: cfg.Pipeline.HistoryTurns,
	}, deps.redis.Client)

	stages := pipeline.Stages{
		Gate:         gate,
		LivePlanner:  livePlanner,
		LiveFetcher:  liveFetcher,
		QueryPlanner: queryPlanner,
		Executor:     executor,
		Synthesizer:  synthesizer,
	}
	pipelineConfig := pipeline.NewConfig(cfg)
	if pipelineConfig.WebSearch {
		stages.WebSearch = webSearch
	}
	orchestrator := pipeline.New(pipelineConfig, stages, store, obs, &pipelineLoggerAdapter{log})

	// --- Surfaces ---
	answerHandler := aq.NewHandler(answerConfig(cfg), orchestrator, &answerQuestionLoggerAdapter{log})
	partnerRecords := pr.NewHandler(partnerRecordsConfig(cfg), deps.partners.GetDB(), log)

	tweets := twitter.NewClient(twitter.Config{
		BaseURL:     cfg.APIs.Twitter.BaseURL,
		BearerToken: cfg.APIs.Twitter.BearerToken,
		Timeout:     config.GetDuration(cfg.APIs.Twitter.Timeout),
	})
	postTweet := pt.NewHandler(pt.NewConfig(cfg), orchestrator, tweets, &postTweetLoggerAdapter{log})

	publisher := newPublisher(ctx, cfg, log)

	// --- Camunda workers ---
	var (
		zeebe   *camunda.Client
		workers *camunda.Registry
	)
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda), log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		log.Info("Zeebe client connected successfully", nil)

		workers = camunda.NewRegistry(zeebe.GetClient(), log)
		workers.Start(cg.TaskType, config.GetWorkerConfig(cfg, cg.TaskType), gate.Handle)
		workers.Start(pld.TaskType, config.GetWorkerConfig(cfg, pld.TaskType), livePlanner.Handle)
		workers.Start(fld.TaskType, config.GetWorkerConfig(cfg, fld.TaskType), liveFetcher.Handle)
		workers.Start(ews.TaskType, config.GetWorkerConfig(cfg, ews.TaskType), webSearch.Handle)
		workers.Start(se.TaskType, config.GetWorkerConfig(cfg, se.TaskType), exampleSearch.Handle)
		workers.Start(phq.TaskType, config.GetWorkerConfig(cfg, phq.TaskType), queryPlanner.Handle)
		workers.Start(qp.TaskType, config.GetWorkerConfig(cfg, qp.TaskType), sqlRunner.Handle)
		workers.Start(ehq.TaskType, config.GetWorkerConfig(cfg, ehq.TaskType), executor.Handle)
		workers.Start(sr.TaskType, config.GetWorkerConfig(cfg, sr.TaskType), synthesizer.Handle)
		workers.Start(aq.TaskType, config.GetWorkerConfig(cfg, aq.TaskType), answerHandler.Handle)
		workers.Start(pr.TaskType, config.GetWorkerConfig(cfg, pr.TaskType), partnerRecords.Handle)
		workers.Start(pt.TaskType, config.GetWorkerConfig(cfg, pt.TaskType), postTweet.Handle)
		if publisher != nil {
			workers.Start(pa.TaskType, config.GetWorkerConfig(cfg, pa.TaskType), publisher.Handle)
		}
		log.Info("workers registered", map[string]interface{}{"taskTypes": workers.TaskTypes()})
	}

	// --- Scheduled posts ---
	var jobs *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		var answerPublisher scheduler.AnswerPublisher
		if publisher != nil {
			answerPublisher = publisher
		}
		jobs, err = scheduler.New(cfg.Scheduler, postTweet, answerPublisher, log)
		if err != nil {
			zapLog.Fatal("scheduler setup failed", zap.Error(err))
		}
		jobs.Start()
	}

	// --- HTTP: partner API, health and metrics ---
	var cache api.InsightCache = deps.redis
	apiServer := api.NewServer(&api.Config{
		AllowedOrigins: cfg.Partners.AllowedOrigins,
		DefaultLeague:  pipelineConfig.DefaultLeague,
		CacheTTL:       time.Duration(cfg.Pipeline.InsightCacheTTL) * time.Second,
		RequestTimeout: answerConfig(cfg).Timeout,
	}, orchestrator, partnerRecords, cache, auth.NewAPIKeys(cfg.Partners.APIKeys), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := readiness(r.Context(), deps, zeebe)
		status := http.StatusOK
		for _, result := range checks {
			if result != "ok" {
				status = http.StatusServiceUnavailable
			}
		}
		label := "ready"
		if status != http.StatusOK {
			label = "not_ready"
		}
		writeStatus(w, status, label, checks)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiServer.Routes())

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", map[string]interface{}{
			"address":  cfg.Server.Address,
			"partners": len(cfg.Partners.APIKeys),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("Shutdown signal received, stopping...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if jobs != nil {
		jobs.Stop(shutdownCtx)
	}
	if workers != nil {
		workers.Close()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			log.Error("Error closing Zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	obs.Shutdown()

	log.Info("Worker manager stopped gracefully", nil)
}

func connect(ctx context.Context, cfg *config.Config, log logger.Logger) (*infra, error) {
	deps := &infra{}

	err := retryWithBackoff(func() error {
		var err error
		deps.historical, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return deps.historical.Ping(ctx)
	}, 15, 2*time.Second, log, "Historical PostgreSQL connection")
	if err != nil {
		return deps, err
	}
	log.Info("Historical PostgreSQL connected", map[string]interface{}{"readOnly": deps.historical.ReadOnly()})

	err = retryWithBackoff(func() error {
		var err error
		deps.partners, err = database.NewPostgres(cfg.Database.PartnerPostgres)
		if err != nil {
			return err
		}
		return deps.partners.Ping(ctx)
	}, 15, 2*time.Second, log, "Partner PostgreSQL connection")
	if err != nil {
		return deps, err
	}
	log.Info("Partner PostgreSQL connected", nil)

	err = retryWithBackoff(func() error {
		var err error
		deps.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return deps.es.Ping()
	}, 15, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		return deps, err
	}
	log.Info("Elasticsearch connected", nil)

	err = retryWithBackoff(func() error {
		var err error
		deps.redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return deps.redis.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		return deps, err
	}
	log.Info("Redis connected", nil)

	return deps, nil
}

// newPublisher builds publish-answer when SNS or SES is configured.
func newPublisher(ctx context.Context, cfg *config.Config, log logger.Logger) *pa.Handler {
	awsCfg := cfg.Integrations.AWS
	if !awsCfg.SNS.Enabled && !awsCfg.SES.Enabled {
		log.Info("answer publication disabled", nil)
		return nil
	}
	clients, err := aws.New(ctx, awsCfg.Region)
	if err != nil {
		log.Error("aws clients unavailable, answer publication disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	handler, err := pa.NewHandler(pa.HandlerOptions{
		AppConfig: cfg,
		SNS:       clients.SNS,
		SES:       clients.SES,
		Logger:    log,
	})
	if err != nil {
		log.Error("publish-answer disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return handler
}

func readiness(ctx context.Context, deps *infra, zeebe *camunda.Client) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"postgres":         result(deps.historical.Ping(ctx)),
		"partner_postgres": result(deps.partners.Ping(ctx)),
		"redis":            result(deps.redis.Ping(ctx)),
	}
	if zeebe != nil {
		checks["zeebe"] = result(zeebe.HealthCheck(ctx))
	}
	return checks
}

func result(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func writeStatus(w http.ResponseWriter, status int, label string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"status": label,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		body["checks"] = checks
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ============================================================================
// Stage configuration
// ============================================================================

// workerTimeout prefers the per-worker timeout from configuration.
func workerTimeout(cfg *config.Config, taskType string, def time.Duration) time.Duration {
	if w, ok := cfg.Workers[taskType]; ok && w.Timeout > 0 {
		return config.GetDuration(w.Timeout)
	}
	return def
}

func clarificationConfig(cfg *config.Config) *cg.Config {
	c := cg.LoadConfig()
	c.Timeout = workerTimeout(cfg, cg.TaskType, c.Timeout)
	c.StructuredOutput = cfg.Pipeline.StructuredOutput
	c.HistoryTurns = cfg.Pipeline.HistoryTurns
	return c
}

func livePlanConfig(cfg *config.Config) *pld.Config {
	c := pld.LoadConfig()
	c.Timeout = workerTimeout(cfg, pld.TaskType, c.Timeout)
	c.HistoryTurns = cfg.Pipeline.HistoryTurns
	return c
}

func liveFetchConfig(cfg *config.Config) *fld.Config {
	c := fld.LoadConfig()
	c.Timeout = workerTimeout(cfg, fld.TaskType, c.Timeout)
	c.SportsDataKey = cfg.APIs.SportsData.APIKey
	c.TrendLookbackDays = cfg.Pipeline.TrendLookbackDays
	c.MaxConcurrency = cfg.Pipeline.LiveMaxConcurrency
	return c
}

func webSearchConfig(cfg *config.Config) *ews.Config {
	c := ews.LoadConfig()
	ws := cfg.APIs.WebSearch
	c.SearchAPIBaseURL = ws.BaseURL
	c.SearchAPIKey = ws.APIKey
	c.MaxResults = ws.MaxResults
	if ws.ScrapeTop > 0 {
		c.ScrapeTop = ws.ScrapeTop
	}
	c.Timeout = config.GetDuration(ws.Timeout)
	return c
}

func searchExamplesConfig(cfg *config.Config) *se.Config {
	c := se.LoadConfig()
	c.Timeout = workerTimeout(cfg, se.TaskType, c.Timeout)
	c.Index = cfg.Database.Elasticsearch.ExamplesIndex
	c.TopK = cfg.Pipeline.SimilarExamples
	return c
}

func queryPlanConfig(cfg *config.Config) *phq.Config {
	c := phq.LoadConfig()
	c.Timeout = workerTimeout(cfg, phq.TaskType, c.Timeout)
	c.StructuredOutput = cfg.Pipeline.StructuredOutput
	c.HistoryTurns = cfg.Pipeline.HistoryTurns
	c.SimilarExamples = cfg.Pipeline.SimilarExamples
	return c
}

func queryPostgresConfig(cfg *config.Config) *qp.Config {
	c := qp.LoadConfig()
	c.QueryTimeout = config.GetDuration(cfg.Pipeline.QueryTimeout)
	c.Timeout = c.QueryTimeout + 5*time.Second
	return c
}

func executeConfig(cfg *config.Config) *ehq.Config {
	c := ehq.LoadConfig()
	c.Timeout = workerTimeout(cfg, ehq.TaskType, c.Timeout)
	c.MaxRetries = cfg.Pipeline.MaxQueryRetries
	c.MinConfidence = cfg.Pipeline.MinConfidence
	c.ValidatorMaxChars = cfg.Pipeline.ValidatorMaxChars
	c.HistoryTurns = cfg.Pipeline.HistoryTurns
	return c
}

func synthesizeConfig(cfg *config.Config) *sr.Config {
	c := sr.LoadConfig()
	c.Timeout = workerTimeout(cfg, sr.TaskType, c.Timeout)
	c.MaxResultChars = cfg.Pipeline.SynthMaxChars
	c.HistoryTurns = cfg.Pipeline.HistoryTurns
	c.MaxTokens = cfg.APIs.LLM.MaxTokens
	if cfg.APIs.LLM.Temperature > 0 {
		c.Temperature = cfg.APIs.LLM.Temperature
	}
	c.TweetMaxChars = cfg.APIs.Twitter.MaxChars
	c.DefaultHashtag = cfg.APIs.Twitter.DefaultHashtag
	return c
}

func answerConfig(cfg *config.Config) *aq.Config {
	c := aq.LoadConfig()
	c.Timeout = workerTimeout(cfg, aq.TaskType, c.Timeout)
	return c
}

func partnerRecordsConfig(cfg *config.Config) *pr.Config {
	c := pr.LoadConfig()
	c.Timeout = workerTimeout(cfg, pr.TaskType, c.Timeout)
	return c
}

var (
	_ pipeline.TurnRecorder = (*observability.Observability)(nil)
	_ api.Answerer          = (*pipeline.Orchestrator)(nil)
	_ api.CallRecorder      = (*pr.Handler)(nil)
	_ api.InsightCache      = (*database.RedisClient)(nil)
)
