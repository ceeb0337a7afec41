package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// CallbackRepository stores the raw settlement callbacks for audit.
type CallbackRepository struct {
	pool *pgxpool.Pool
}

func NewCallbackRepository(pool *pgxpool.Pool) *CallbackRepository {
	return &CallbackRepository{pool: pool}
}

func (r *CallbackRepository) Create(ctx context.Context, entity *CallbackAuditEntity) (*CallbackAuditEntity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	query := `INSERT INTO payment_callbacks (id, external_reference, status, callback_data)
	          VALUES ($1, $2, $3, $4)
	          RETURNING created_at`
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.ExternalReference, entity.Status, entity.CallbackData).
		Scan(&entity.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert payment callback")
	}
	return entity, nil
}

func (r *CallbackRepository) SelectByReference(ctx context.Context, reference string) ([]*CallbackAuditEntity, error) {
	query := `SELECT id, external_reference, status, callback_data, created_at
	          FROM payment_callbacks WHERE external_reference = $1 ORDER BY created_at`
	return r.selectMany(ctx, query, reference)
}

// SelectUnattributed returns callbacks that carried no reference.
func (r *CallbackRepository) SelectUnattributed(ctx context.Context) ([]*CallbackAuditEntity, error) {
	query := `SELECT id, external_reference, status, callback_data, created_at
	          FROM payment_callbacks WHERE external_reference IS NULL ORDER BY created_at`
	return r.selectMany(ctx, query)
}

func (r *CallbackRepository) selectMany(ctx context.Context, query string, args ...any) ([]*CallbackAuditEntity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select payment callbacks")
	}
	defer rows.Close()

	var callbacks []*CallbackAuditEntity
	for rows.Next() {
		var entity CallbackAuditEntity
		if err := rows.Scan(&entity.ID, &entity.ExternalReference, &entity.Status, &entity.CallbackData, &entity.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan payment callback")
		}
		callbacks = append(callbacks, &entity)
	}
	return callbacks, rows.Err()
}
