// Package activation drives one activation payment attempt from the payer's
// side: it records the attempt, asks the relay for an STK push and then polls
// the persisted payment row until it settles.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"activation-relay/internal/db"
	"activation-relay/internal/logcontext"
	"activation-relay/internal/logging"
	"activation-relay/internal/payload"
	"activation-relay/internal/phone"
	"activation-relay/internal/reference"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "error"
	StateExpired State = "expired"
)

const (
	MessagePending = "Payment request sent! Please check your phone and enter your M-PESA PIN."
	MessageSuccess = "Payment confirmed! Your account is now active."
	MessageFailed  = "Payment failed or was cancelled. Please try again."
	MessageExpired = "Payment is still processing. Please check back later or contact support."

	fallbackMessage = "Payment initiation failed"
)

// ValidationError rejects input before anything is stored or sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type PaymentStore interface {
	Create(ctx context.Context, entity *db.PaymentEntity) (*db.PaymentEntity, error)
	AttachCheckoutID(ctx context.Context, reference, checkoutID string) error
}

type Relay interface {
	Pay(ctx context.Context, req payload.PayRequest) (*payload.PayResponse, error)
}

// Attempt is the state of an initiated payment the caller should start polling.
type Attempt struct {
	Reference         string
	Phone             string
	CheckoutRequestID string
	State             State
	Message           string
}

type Initiator struct {
	payments PaymentStore
	relay    Relay
	refs     *reference.Generator
	fee      int64
	logger   *slog.Logger
}

func NewInitiator(payments PaymentStore, relay Relay, refs *reference.Generator, fee int64, logger *slog.Logger) *Initiator {
	return &Initiator{payments: payments, relay: relay, refs: refs, fee: fee, logger: logger}
}

// Initiate writes the QUEUED row before the relay call so the attempt is durable
// even when the relay never answers. On relay failure the row is left QUEUED and
// the relay's message is returned as the error text.
func (i *Initiator) Initiate(ctx context.Context, userID uuid.UUID, phoneInput string) (*Attempt, error) {
	normalized := phone.Normalize(phoneInput)
	if !phone.Valid(normalized) {
		return nil, &ValidationError{Field: "phone", Message: "please enter a valid phone number"}
	}

	ref := i.refs.Next(userID)
	ctx = logcontext.AppendCtx(ctx, slog.String("reference", ref))

	_, err := i.payments.Create(ctx, &db.PaymentEntity{
		UserID:            userID,
		PhoneNumber:       normalized,
		Amount:            i.fee,
		ExternalReference: ref,
		Status:            db.StatusQueued,
	})
	if err != nil {
		return nil, errors.Wrap(err, "record payment attempt")
	}

	i.logger.InfoContext(ctx, "Requesting STK push", "phone", logging.MaskPhone(normalized))

	resp, err := i.relay.Pay(ctx, payload.PayRequest{
		Phone:     normalized,
		Amount:    payload.Amount(i.fee),
		Reference: ref,
	})
	if err != nil {
		i.logger.WarnContext(ctx, "Relay rejected payment", "error", err)
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(resp.Status), "queued") {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = fallbackMessage
		}
		i.logger.WarnContext(ctx, "Relay did not queue payment", "status", resp.Status, "message", msg)
		return nil, errors.New(msg)
	}

	attempt := &Attempt{
		Reference: ref,
		Phone:     normalized,
		State:     StatePending,
		Message:   MessagePending,
	}

	if resp.CheckoutRequestID != nil && *resp.CheckoutRequestID != "" {
		attempt.CheckoutRequestID = *resp.CheckoutRequestID
		if err := i.payments.AttachCheckoutID(ctx, ref, attempt.CheckoutRequestID); err != nil {
			i.logger.WarnContext(ctx, "Could not attach checkout id", "error", err)
		}
	}

	return attempt, nil
}
