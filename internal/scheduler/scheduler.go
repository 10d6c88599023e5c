// Package scheduler posts pipeline answers to the bot account on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/common/config"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"
	posttweet "blitz-workers/internal/workers/communication/post-tweet"
	publishanswer "blitz-workers/internal/workers/communication/publish-answer"

	"github.com/robfig/cron/v3"
)

const defaultRunTimeout = 3 * time.Minute

var ErrInvalidJob = errors.New("INVALID_SCHEDULED_JOB")

type TweetPoster interface {
	Execute(ctx context.Context, input *posttweet.Input) (*posttweet.Output, error)
}

type AnswerPublisher interface {
	Execute(ctx context.Context, input *publishanswer.Input) (*publishanswer.Output, error)
}

// Result is what one run of a job produced.
type Result struct {
	Job         string
	Tweet       *posttweet.Output
	Publication *publishanswer.Output
}

type Scheduler struct {
	cron       *cron.Cron
	poster     TweetPoster
	publisher  AnswerPublisher
	jobs       []config.ScheduledJob
	runTimeout time.Duration
	logger     logger.Logger
}

// New validates and registers every job. publisher may be nil, in which
// case jobs are only posted.
func New(cfg config.SchedulerConfig, poster TweetPoster, publisher AnswerPublisher, log logger.Logger) (*Scheduler, error) {
	log = log.WithFields(map[string]interface{}{"component": "scheduler"})
	cronLog := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		poster:     poster,
		publisher:  publisher,
		runTimeout: defaultRunTimeout,
		logger:     log,
	}

	for i, job := range cfg.Jobs {
		job.Name = strings.TrimSpace(job.Name)
		if job.Name == "" {
			job.Name = fmt.Sprintf("job-%d", i+1)
		}
		if strings.TrimSpace(job.Question) == "" {
			return nil, fmt.Errorf("%w: %s has no question", ErrInvalidJob, job.Name)
		}
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() { s.fire(job) }); err != nil {
			return nil, fmt.Errorf("%w: %s: bad spec %q: %v", ErrInvalidJob, job.Name, job.Spec, err)
		}
		s.jobs = append(s.jobs, job)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
	s.cron.Start()
}

// Stop waits for running jobs or for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", nil)
	}
}

func (s *Scheduler) Jobs() []config.ScheduledJob {
	return append([]config.ScheduledJob(nil), s.jobs...)
}

func (s *Scheduler) fire(job config.ScheduledJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	if _, err := s.Run(ctx, job); err != nil {
		s.logger.Error("scheduled job failed", map[string]interface{}{
			"job":   job.Name,
			"error": err.Error(),
		})
	}
}

// Run answers the job's question in twitter mode, posts the tweet and, when
// the job asks for it, publishes the answer.
func (s *Scheduler) Run(ctx context.Context, job config.ScheduledJob) (*Result, error) {
	result := &Result{Job: job.Name}

	tweet, err := s.poster.Execute(ctx, &posttweet.Input{
		Text:   job.Question,
		League: models.ParseLeague(job.League, ""),
	})
	if err != nil {
		return result, fmt.Errorf("post %s: %w", job.Name, err)
	}
	result.Tweet = tweet

	if !tweet.Posted {
		s.logger.Warn("scheduled tweet skipped", map[string]interface{}{
			"job":    job.Name,
			"turnId": tweet.TurnID,
			"reason": string(tweet.SkipReason),
		})
		return result, nil
	}
	s.logger.Info("scheduled tweet posted", map[string]interface{}{
		"job":     job.Name,
		"tweetId": tweet.ReplyID,
	})

	if !job.Publish || s.publisher == nil || tweet.Payload == nil {
		return result, nil
	}
	publication, err := s.publisher.Execute(ctx, &publishanswer.Input{
		TurnID:   tweet.TurnID,
		Question: job.Question,
		League:   tweet.League,
		Mode:     models.ModeTwitter,
		Payload:  tweet.Payload,
	})
	if err != nil {
		return result, fmt.Errorf("publish %s: %w", job.Name, err)
	}
	result.Publication = publication
	return result, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = fmt.Sprint(err)
	l.log.Error(msg, fields)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
