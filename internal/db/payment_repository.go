package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const paymentColumns = `id, user_id, phone_number, amount, external_reference, checkout_request_id, status,
	payhero_response, created_at, updated_at, confirmed_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts a QUEUED payment row.
func (r *PaymentRepository) Create(ctx context.Context, entity *PaymentEntity) (*PaymentEntity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.Status == "" {
		entity.Status = StatusQueued
	}

	query := `INSERT INTO activation_payments (id, user_id, phone_number, amount, external_reference, status)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.UserID, entity.PhoneNumber, entity.Amount,
		entity.ExternalReference, entity.Status).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "insert payment %s", entity.ExternalReference)
	}
	return entity, nil
}

// AttachCheckoutID sets only checkout_request_id so a concurrent callback write is never clobbered.
func (r *PaymentRepository) AttachCheckoutID(ctx context.Context, reference, checkoutID string) error {
	query := `UPDATE activation_payments SET checkout_request_id = $2, updated_at = NOW()
	          WHERE external_reference = $1`
	tag, err := r.pool.Exec(ctx, query, reference, checkoutID)
	if err != nil {
		return errors.Wrapf(err, "attach checkout id to %s", reference)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) SelectByReference(ctx context.Context, reference string) (*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM activation_payments WHERE external_reference = $1`
	entity, err := scanPayment(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		return nil, notFound(err)
	}
	return entity, nil
}

// MarkSuccess moves a QUEUED payment to SUCCESS. ok is false when no QUEUED row
// matched: unknown reference, or a payment that already reached a terminal state.
func (r *PaymentRepository) MarkSuccess(ctx context.Context, tx pgx.Tx, reference string, raw []byte, confirmedAt time.Time) (userID uuid.UUID, ok bool, err error) {
	query := `UPDATE activation_payments
	          SET status = $2, confirmed_at = $3, payhero_response = $4, updated_at = NOW()
	          WHERE external_reference = $1 AND status = $5
	          RETURNING user_id`
	err = tx.QueryRow(ctx, query, reference, StatusSuccess, confirmedAt, raw, StatusQueued).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, errors.Wrapf(err, "mark payment %s successful", reference)
	}
	return userID, true, nil
}

// MarkFailed moves a QUEUED payment to FAILED and reports whether a row changed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, reference string, raw []byte) (bool, error) {
	query := `UPDATE activation_payments
	          SET status = $2, payhero_response = $3, updated_at = NOW()
	          WHERE external_reference = $1 AND status = $4`
	tag, err := r.pool.Exec(ctx, query, reference, StatusFailed, raw, StatusQueued)
	if err != nil {
		return false, errors.Wrapf(err, "mark payment %s failed", reference)
	}
	return tag.RowsAffected() > 0, nil
}

// SelectStaleQueued returns the oldest QUEUED payments created before olderThan,
// together with the total number of such rows.
func (r *PaymentRepository) SelectStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*PaymentEntity, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activation_payments WHERE status = $1 AND created_at < $2`,
		StatusQueued, olderThan).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count stale payments")
	}
	if total == 0 || limit <= 0 {
		return nil, total, nil
	}

	query := `SELECT ` + paymentColumns + ` FROM activation_payments
	          WHERE status = $1 AND created_at < $2
	          ORDER BY created_at
	          LIMIT $3`
	rows, err := r.pool.Query(ctx, query, StatusQueued, olderThan, limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select stale payments")
	}
	defer rows.Close()

	var payments []*PaymentEntity
	for rows.Next() {
		entity, err := scanPayment(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan stale payment")
		}
		payments = append(payments, entity)
	}
	return payments, total, rows.Err()
}

func scanPayment(row pgx.Row) (*PaymentEntity, error) {
	var entity PaymentEntity
	err := row.Scan(
		&entity.ID,
		&entity.UserID,
		&entity.PhoneNumber,
		&entity.Amount,
		&entity.ExternalReference,
		&entity.CheckoutRequestID,
		&entity.Status,
		&entity.GatewayResponse,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&entity.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
