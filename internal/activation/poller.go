package activation

import (
	"context"
	"log/slog"
	"time"

	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"github.com/pkg/errors"
)

type PaymentReader interface {
	SelectByReference(ctx context.Context, reference string) (*db.PaymentEntity, error)
}

// Outcome is the terminal result of polling one attempt.
type Outcome struct {
	State   State
	Message string
	Payment *db.PaymentEntity
}

type PollerOptions struct {
	Interval      time.Duration
	Timeout       time.Duration
	CompleteDelay time.Duration
	// OnComplete runs after CompleteDelay once a payment is confirmed.
	OnComplete func(ctx context.Context, outcome Outcome)
}

// Poller reads the payment row on a single ticker, so reads never overlap.
type Poller struct {
	payments PaymentReader
	opts     PollerOptions
	logger   *slog.Logger
}

func NewPoller(payments PaymentReader, opts PollerOptions, logger *slog.Logger) *Poller {
	return &Poller{payments: payments, opts: opts, logger: logger}
}

// Poll blocks until the payment settles, the timeout elapses or ctx is done.
// A cancelled ctx always wins: no outcome is returned and OnComplete never runs.
func (p *Poller) Poll(ctx context.Context, reference string) (Outcome, error) {
	if p.opts.Interval <= 0 {
		return Outcome{}, errors.New("poll interval must be positive")
	}
	ctx = logcontext.AppendCtx(ctx, slog.String("reference", reference))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var expired <-chan time.Time
	if p.opts.Timeout > 0 {
		timer := time.NewTimer(p.opts.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-expired:
			p.logger.WarnContext(ctx, "Payment still pending after poll timeout", "timeout", p.opts.Timeout)
			return Outcome{State: StateExpired, Message: MessageExpired}, nil
		case <-ticker.C:
			outcome, done := p.check(ctx, reference)
			if !done {
				continue
			}
			if outcome.State == StateSuccess {
				return p.complete(ctx, outcome)
			}
			return outcome, nil
		}
	}
}

func (p *Poller) check(ctx context.Context, reference string) (Outcome, bool) {
	payment, err := p.payments.SelectByReference(ctx, reference)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			p.logger.ErrorContext(ctx, "Error reading payment", "error", err)
		}
		return Outcome{}, false
	}

	switch {
	case payment.Status == db.StatusSuccess && payment.ConfirmedAt != nil:
		return Outcome{State: StateSuccess, Message: MessageSuccess, Payment: payment}, true
	case payment.Status == db.StatusFailed:
		return Outcome{State: StateFailed, Message: MessageFailed, Payment: payment}, true
	default:
		return Outcome{}, false
	}
}

func (p *Poller) complete(ctx context.Context, outcome Outcome) (Outcome, error) {
	if p.opts.CompleteDelay > 0 {
		timer := time.NewTimer(p.opts.CompleteDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}

	if p.opts.OnComplete != nil {
		p.opts.OnComplete(ctx, outcome)
	}
	return outcome, nil
}
