// Package fulfillment applies the side effects of a confirmed activation
// payment: the activation flag, the referral commission run and the fee debit.
package fulfillment

import (
	"context"
	"log/slog"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	defaultRetryDelayMs = 10_000
	defaultMaxAttempts  = 10
)

var (
	fulfillmentCompletedCounter   = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="completed"}`)
	fulfillmentDuplicateCounter   = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="already_completed"}`)
	fulfillmentNoProfileCounter   = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="profile_missing"}`)
	fulfillmentRescheduledCounter = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="rescheduled"}`)
	fulfillmentParkedCounter      = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="max_attempts_reached"}`)
	fulfillmentErrorCounter       = metrics.GetOrCreateCounter(`fulfillment_jobs_total{result="db_error"}`)
)

const profileMissing = "user profile not found"

type Processor struct {
	jobs        *db.JobRepository
	users       *db.UserRepository
	ledger      *db.LedgerRepository
	commissions *db.CommissionDistributor
	fee         int64
	retryDelay  time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

func NewProcessor(jobs *db.JobRepository, users *db.UserRepository, ledger *db.LedgerRepository,
	commissions *db.CommissionDistributor, fee int64, cfg config.Outbox, logger *slog.Logger) *Processor {
	retryDelayMs := cfg.RetryDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = defaultRetryDelayMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Processor{
		jobs:        jobs,
		users:       users,
		ledger:      ledger,
		commissions: commissions,
		fee:         fee,
		retryDelay:  time.Duration(retryDelayMs) * time.Millisecond,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Process runs one job in a single transaction. A completed job is a no-op, so
// redelivery is safe. On failure nothing of the job's work is kept; the attempt
// is recorded and the job rescheduled, or parked after the last attempt.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("jobId", jobID.String()))

	tx, err := p.jobs.BeginTx(ctx)
	if err != nil {
		fulfillmentErrorCounter.Inc()
		return errors.Wrap(err, "begin fulfillment transaction")
	}
	defer tx.Rollback(ctx)

	job, err := p.jobs.SelectForUpdateByID(ctx, tx, jobID)
	if errors.Is(err, db.ErrNotFound) {
		p.logger.WarnContext(ctx, "Activation job not found")
		return nil
	}
	if err != nil {
		fulfillmentErrorCounter.Inc()
		return errors.Wrap(err, "lock activation job")
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("reference", job.PaymentReference))

	if job.CompletedAt != nil {
		p.logger.InfoContext(ctx, "Activation job already completed")
		fulfillmentDuplicateCounter.Inc()
		return nil
	}

	if err := p.fulfil(ctx, tx, job); err != nil {
		_ = tx.Rollback(ctx)
		p.logger.ErrorContext(ctx, "Activation side effects failed", "error", err, "userId", job.UserID)
		if recordErr := p.recordFailure(ctx, jobID, err); recordErr != nil {
			p.logger.ErrorContext(ctx, "Error recording failed attempt", "error", recordErr)
		}
		return err
	}

	completedAt := p.now()
	job.Attempts++
	job.CompletedAt = &completedAt
	job.ScheduledAt = nil

	if err := p.jobs.Update(ctx, tx, job); err != nil {
		fulfillmentErrorCounter.Inc()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		fulfillmentErrorCounter.Inc()
		return errors.Wrap(err, "commit fulfillment")
	}

	p.logger.InfoContext(ctx, "Activation job completed", "userId", job.UserID)
	fulfillmentCompletedCounter.Inc()
	return nil
}

func (p *Processor) fulfil(ctx context.Context, tx pgx.Tx, job *db.ActivationJobEntity) error {
	exists, activated, err := p.users.Activate(ctx, tx, job.UserID, p.now())
	if err != nil {
		return err
	}
	if !exists {
		p.logger.WarnContext(ctx, "Payment confirmed for a missing user profile", "userId", job.UserID)
		note := profileMissing
		job.Error = &note
		fulfillmentNoProfileCounter.Inc()
		return nil
	}

	if activated {
		if err := p.commissions.Distribute(ctx, tx, job.UserID); err != nil {
			return err
		}
	} else {
		p.logger.InfoContext(ctx, "User already active, skipping commissions", "userId", job.UserID)
	}

	inserted, err := p.ledger.InsertActivationFee(ctx, tx, job.UserID, job.PaymentReference, p.fee)
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.InfoContext(ctx, "Activation fee already recorded")
	}
	job.Error = nil
	return nil
}

func (p *Processor) recordFailure(ctx context.Context, jobID uuid.UUID, cause error) error {
	tx, err := p.jobs.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := p.jobs.SelectForUpdateByID(ctx, tx, jobID)
	if err != nil {
		return err
	}

	job.Attempts++
	errMsg := cause.Error()
	job.Error = &errMsg

	if job.Attempts >= p.maxAttempts {
		p.logger.WarnContext(ctx, "Max attempts reached for activation job", "attempts", job.Attempts)
		job.ScheduledAt = nil
		fulfillmentParkedCounter.Inc()
	} else {
		scheduledAt := p.now().Add(time.Duration(job.Attempts) * p.retryDelay)
		job.ScheduledAt = &scheduledAt
		fulfillmentRescheduledCounter.Inc()
	}

	if err := p.jobs.Update(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
