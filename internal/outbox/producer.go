// Package outbox hands due activation jobs to a Publisher on a fixed interval.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	defaultPollingIntervalMs  = 1_000
	defaultFetchSize          = 100
	defaultLeaseMs            = 60_000
	defaultRetryDelayMs       = 10_000
	defaultMaxPublishAttempts = 5
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorPublishCounter  = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// producer per job metrics
	producerJobsPublishedCounter   = metrics.GetOrCreateCounter(`outbox_jobs_total{result="published"}`)
	producerJobsMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_jobs_total{result="max_attempts_reached"}`)
	producerJobsRescheduledCounter = metrics.GetOrCreateCounter(`outbox_jobs_total{result="rescheduled"}`)
)

// Publisher delivers leased jobs to whatever runs them.
type Publisher interface {
	Publish(ctx context.Context, jobs []*db.ActivationJobEntity) error
}

type Producer struct {
	repo               *db.JobRepository
	publisher          Publisher
	pollingInterval    time.Duration
	fetchSize          int
	lease              time.Duration
	retryDelay         time.Duration
	maxPublishAttempts int
	now                func() time.Time
	logger             *slog.Logger
}

func NewProducer(repo *db.JobRepository, publisher Publisher, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		repo:               repo,
		publisher:          publisher,
		pollingInterval:    millisOr(cfg.PollingIntervalMs, defaultPollingIntervalMs),
		fetchSize:          intOr(cfg.FetchSize, defaultFetchSize),
		lease:              millisOr(cfg.LeaseMs, defaultLeaseMs),
		retryDelay:         millisOr(cfg.RetryDelayMs, defaultRetryDelayMs),
		maxPublishAttempts: intOr(cfg.MaxPublishAttempts, defaultMaxPublishAttempts),
		now:                time.Now,
		logger:             logger,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping producer")
				return
			}
		}
	}()
}

// process leases a batch in one short transaction and publishes it after
// commit, so a slow publisher never holds row locks. A leased job that is
// never completed becomes due again when its lease runs out.
func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	jobs, err := p.leaseDue(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error leasing activation jobs", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(jobs) == 0 {
		p.logger.DebugContext(ctx, "No due activation jobs found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Publishing activation jobs", "count", len(jobs))

	if err := p.publisher.Publish(ctx, jobs); err != nil {
		p.logger.ErrorContext(ctx, "Error publishing activation jobs", "error", err)
		producerErrorPublishCounter.Inc()
		p.reschedule(ctx, jobs, err)
		return
	}

	producerJobsPublishedCounter.Add(len(jobs))
	producerSuccessCounter.Inc()
}

func (p *Producer) leaseDue(ctx context.Context) ([]*db.ActivationJobEntity, error) {
	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := p.now()
	jobs, err := p.repo.SelectDue(ctx, tx, now, p.fetchSize)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}

	leasedUntil := now.Add(p.lease)
	for _, job := range jobs {
		job.PublishAttempts++
		job.ScheduledAt = &leasedUntil
		if err := p.repo.Update(ctx, tx, job); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (p *Producer) reschedule(ctx context.Context, jobs []*db.ActivationJobEntity, cause error) {
	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}
	defer tx.Rollback(ctx)

	errMsg := cause.Error()
	for _, job := range jobs {
		jobCtx := logcontext.AppendCtx(ctx, slog.String("jobId", job.ID.String()))

		var scheduledAt *time.Time
		if job.PublishAttempts >= p.maxPublishAttempts {
			p.logger.WarnContext(jobCtx, "Max publish attempts reached for activation job")
			producerJobsMaxAttemptsCounter.Inc()
		} else {
			next := p.now().Add(time.Duration(job.PublishAttempts) * p.retryDelay)
			scheduledAt = &next
			producerJobsRescheduledCounter.Inc()
		}

		rescheduled, err := p.repo.Reschedule(jobCtx, tx, job.ID, scheduledAt, errMsg)
		if err != nil {
			p.logger.ErrorContext(jobCtx, "Error updating activation job", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
		if !rescheduled {
			p.logger.InfoContext(jobCtx, "Activation job completed before reschedule")
			continue
		}
		job.ScheduledAt = scheduledAt
		job.Error = &errMsg
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
	}
}

func millisOr(ms, fallback int) time.Duration {
	return time.Duration(intOr(ms, fallback)) * time.Millisecond
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
