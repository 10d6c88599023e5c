package camunda

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"blitz-workers/internal/common/config"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Registry opens one job worker per enabled task type and closes them all
// on shutdown.
type Registry struct {
	client zbc.Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewRegistry(client zbc.Client, log logger.Logger) *Registry {
	return &Registry{
		client:  client,
		logger:  log,
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a worker for taskType. It reports false when the worker is
// disabled in configuration.
func (r *Registry) Start(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) bool {
	if !wcfg.Enabled {
		r.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[taskType]; exists {
		panic(fmt.Sprintf("camunda: worker %q registered twice", taskType))
	}

	jobWorker := r.client.NewJobWorker().
		JobType(taskType).
		Handler(Instrument(taskType, handler, r.logger)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()
	r.workers[taskType] = jobWorker

	r.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

func (r *Registry) TaskTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.workers))
	for t := range r.workers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Close stops polling and waits for in-flight jobs.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for taskType, w := range r.workers {
		w.Close()
		w.AwaitClose()
		r.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
	}
	r.workers = make(map[string]worker.JobWorker)
}

// Instrument records job metrics around handler and turns a panic into a
// failed job.
func Instrument(taskType string, handler worker.JobHandler, log logger.Logger) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		tracked := &trackingClient{JobClient: client}
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("job handler panicked", map[string]interface{}{
					"taskType": taskType,
					"jobKey":   job.Key,
					"panic":    fmt.Sprint(rec),
				})
				tracked.outcome = "PANIC"
				if client != nil {
					_, _ = client.NewFailJobCommand().
						JobKey(job.Key).
						Retries(0).
						ErrorMessage(fmt.Sprintf("handler panic: %v", rec)).
						Send(context.Background())
				}
			}
			metrics.ObserveJob(taskType, tracked.outcome, time.Since(start).Seconds())
		}()

		handler(tracked, job)
	}
}

// trackingClient notes whether the handler failed the job.
type trackingClient struct {
	worker.JobClient
	outcome string
}

func (c *trackingClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	c.outcome = "FAILED"
	return c.JobClient.NewFailJobCommand()
}

func (c *trackingClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	c.outcome = "BPMN_ERROR"
	return c.JobClient.NewThrowErrorCommand()
}
