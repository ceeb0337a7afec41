// Package settlement is the only writer of terminal payment state. It records
// every gateway callback, applies conditional status transitions and queues the
// activation side effects exactly once per confirmed payment.
package settlement

import (
	"context"
	"log/slog"
	"time"

	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"activation-relay/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Result string

const (
	// ResultIgnored: nothing beyond the audit row (no reference, or a non-terminal status).
	ResultIgnored Result = "ignored"
	// ResultSucceeded: the payment moved QUEUED -> SUCCESS and a job was queued.
	ResultSucceeded Result = "succeeded"
	// ResultFailed: the payment moved QUEUED -> FAILED.
	ResultFailed Result = "failed"
	// ResultUnchanged: the payment was already terminal.
	ResultUnchanged Result = "unchanged"
	// ResultUnknown: no payment carries the reference.
	ResultUnknown Result = "unknown_reference"
)

var (
	callbackSuccessCounter = metrics.GetOrCreateCounter(`settlement_callbacks_total{outcome="success"}`)
	callbackFailedCounter  = metrics.GetOrCreateCounter(`settlement_callbacks_total{outcome="failed"}`)
	callbackIgnoredCounter = metrics.GetOrCreateCounter(`settlement_callbacks_total{outcome="ignored"}`)
	auditErrorCounter      = metrics.GetOrCreateCounter(`settlement_callbacks_total{outcome="audit_failed"}`)

	transitionAppliedCounter   = metrics.GetOrCreateCounter(`settlement_transitions_total{result="applied"}`)
	transitionUnchangedCounter = metrics.GetOrCreateCounter(`settlement_transitions_total{result="unchanged"}`)
	transitionUnknownCounter   = metrics.GetOrCreateCounter(`settlement_transitions_total{result="unknown_reference"}`)
	transitionErrorCounter     = metrics.GetOrCreateCounter(`settlement_transitions_total{result="db_error"}`)
)

// JobProcessor runs a queued activation job. Settle calls it once right after
// commit; the outbox producer covers anything that run leaves unfinished.
type JobProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

type Service struct {
	payments    *db.PaymentRepository
	jobs        *db.JobRepository
	callbacks   *db.CallbackRepository
	processor   JobProcessor
	inlineGrace time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewService builds the settlement service. processor may be nil, in which
// case jobs are left entirely to the outbox producer. inlineGrace delays the
// producer's first pickup so it does not race the inline run.
func NewService(payments *db.PaymentRepository, jobs *db.JobRepository, callbacks *db.CallbackRepository,
	processor JobProcessor, inlineGrace time.Duration, logger *slog.Logger) *Service {
	return &Service{
		payments:    payments,
		jobs:        jobs,
		callbacks:   callbacks,
		processor:   processor,
		inlineGrace: inlineGrace,
		now:         time.Now,
		logger:      logger,
	}
}

// Settle handles one normalised callback. The returned error is for logging
// only: the gateway must always be acknowledged.
func (s *Service) Settle(ctx context.Context, n payload.Notification) (Result, error) {
	if n.ExternalReference != "" {
		ctx = logcontext.AppendCtx(ctx, slog.String("reference", n.ExternalReference))
	}

	s.audit(ctx, n)

	if n.ExternalReference == "" {
		s.logger.WarnContext(ctx, "Callback without external reference", "status", n.Status, "payload", string(n.Raw))
		callbackIgnoredCounter.Inc()
		return ResultIgnored, nil
	}

	switch n.Outcome {
	case payload.OutcomeSuccess:
		callbackSuccessCounter.Inc()
		return s.succeed(ctx, n)
	case payload.OutcomeFailed:
		callbackFailedCounter.Inc()
		return s.fail(ctx, n)
	default:
		s.logger.InfoContext(ctx, "Ignoring non-terminal callback status", "status", n.Status)
		callbackIgnoredCounter.Inc()
		return ResultIgnored, nil
	}
}

// audit never blocks processing: a lost audit row is logged with the payload.
func (s *Service) audit(ctx context.Context, n payload.Notification) {
	entity := &db.CallbackAuditEntity{CallbackData: n.AuditPayload()}
	if n.ExternalReference != "" {
		ref := n.ExternalReference
		entity.ExternalReference = &ref
	}
	if n.Status != "" {
		status := n.Status
		entity.Status = &status
	}

	if _, err := s.callbacks.Create(ctx, entity); err != nil {
		auditErrorCounter.Inc()
		s.logger.ErrorContext(ctx, "Error storing callback audit row", "error", err, "payload", string(n.Raw))
	}
}

func (s *Service) succeed(ctx context.Context, n payload.Notification) (Result, error) {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		transitionErrorCounter.Inc()
		return "", errors.Wrap(err, "begin settlement transaction")
	}
	defer tx.Rollback(ctx)

	now := s.now()
	userID, ok, err := s.payments.MarkSuccess(ctx, tx, n.ExternalReference, n.AuditPayload(), now)
	if err != nil {
		transitionErrorCounter.Inc()
		return "", err
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return s.unchanged(ctx, n.ExternalReference)
	}

	scheduledAt := now.Add(s.inlineGrace)
	job, err := s.jobs.Create(ctx, tx, &db.ActivationJobEntity{
		PaymentReference: n.ExternalReference,
		UserID:           userID,
		ScheduledAt:      &scheduledAt,
	})
	if err != nil {
		transitionErrorCounter.Inc()
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		transitionErrorCounter.Inc()
		return "", errors.Wrap(err, "commit settlement")
	}

	transitionAppliedCounter.Inc()
	s.logger.InfoContext(ctx, "Payment confirmed", "userId", userID, "jobId", job.ID)

	if s.processor != nil {
		if err := s.processor.Process(ctx, job.ID); err != nil {
			s.logger.WarnContext(ctx, "Activation job left for retry", "jobId", job.ID, "error", err)
		}
	}
	return ResultSucceeded, nil
}

func (s *Service) fail(ctx context.Context, n payload.Notification) (Result, error) {
	changed, err := s.payments.MarkFailed(ctx, n.ExternalReference, n.AuditPayload())
	if err != nil {
		transitionErrorCounter.Inc()
		return "", err
	}
	if !changed {
		return s.unchanged(ctx, n.ExternalReference)
	}

	transitionAppliedCounter.Inc()
	s.logger.InfoContext(ctx, "Payment failed", "resultCode", n.ResultCode, "resultDesc", n.ResultDesc)
	return ResultFailed, nil
}

func (s *Service) unchanged(ctx context.Context, reference string) (Result, error) {
	payment, err := s.payments.SelectByReference(ctx, reference)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.WarnContext(ctx, "Callback for unknown payment reference")
		transitionUnknownCounter.Inc()
		return ResultUnknown, nil
	}
	if err != nil {
		transitionErrorCounter.Inc()
		return "", err
	}

	s.logger.InfoContext(ctx, "Payment already settled, callback ignored", "status", payment.Status)
	transitionUnchangedCounter.Inc()
	return ResultUnchanged, nil
}
