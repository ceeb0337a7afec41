// Package reconcile reports activation payments stuck in QUEUED. It never
// changes them: orphaned attempts are left for an operator to resolve.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	defaultSchedule     = "@every 10m"
	defaultStaleAfterMs = 30 * 60 * 1000
	defaultReportLimit  = 20
)

var (
	stalePaymentsGauge  = metrics.GetOrCreateGauge(`reconcile_stale_payments`, nil)
	sweepErrorCounter   = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="error"}`)
	sweepSuccessCounter = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="success"}`)
)

type StaleFinder interface {
	SelectStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*db.PaymentEntity, int, error)
}

type Sweeper struct {
	payments   StaleFinder
	cron       *cron.Cron
	schedule   string
	staleAfter time.Duration
	limit      int
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewSweeper(payments StaleFinder, cfg config.Reconcile, logger *slog.Logger) *Sweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	staleAfterMs := cfg.StaleAfterMs
	if staleAfterMs <= 0 {
		staleAfterMs = defaultStaleAfterMs
	}
	limit := cfg.ReportLimit
	if limit <= 0 {
		limit = defaultReportLimit
	}

	return &Sweeper{
		payments:   payments,
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger))),
		schedule:   schedule,
		staleAfter: time.Duration(staleAfterMs) * time.Millisecond,
		limit:      limit,
		timeout:    time.Minute,
		now:        time.Now,
		logger:     logger,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.Sweep(ctx)
	})
	if err != nil {
		s.logger.Error("failed to schedule stale payment sweep", "error", err)
		return err
	}

	s.logger.Info("scheduled stale payment sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep counts QUEUED payments older than the stale threshold and logs the oldest ones.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	cutoff := s.now().Add(-s.staleAfter)
	payments, total, err := s.payments.SelectStaleQueued(ctx, cutoff, s.limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error scanning for stale payments", "error", err)
		sweepErrorCounter.Inc()
		return 0, err
	}

	stalePaymentsGauge.Set(float64(total))
	sweepSuccessCounter.Inc()

	if total == 0 {
		s.logger.InfoContext(ctx, "No stale payments")
		return 0, nil
	}

	refs := make([]string, 0, len(payments))
	for _, p := range payments {
		refs = append(refs, p.ExternalReference)
	}
	s.logger.WarnContext(ctx, "Payments still QUEUED past threshold",
		"count", total, "olderThan", cutoff, "references", refs)
	return total, nil
}
