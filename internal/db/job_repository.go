package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const jobColumns = `id, payment_reference, user_id, scheduled_at, publish_attempts, attempts, completed_at, error,
	created_at, updated_at`

// JobRepository persists the activation side-effect outbox.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts a job inside the caller's transaction so it commits together
// with the payment transition that produced it.
func (r *JobRepository) Create(ctx context.Context, tx pgx.Tx, entity *ActivationJobEntity) (*ActivationJobEntity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	query := `INSERT INTO activation_jobs (id, payment_reference, user_id, scheduled_at)
	          VALUES ($1, $2, $3, $4)
	          RETURNING created_at, updated_at`
	err := tx.QueryRow(ctx, query, entity.ID, entity.PaymentReference, entity.UserID, entity.ScheduledAt).
		Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "insert activation job for %s", entity.PaymentReference)
	}
	return entity, nil
}

// SelectDue locks up to limit unfinished jobs whose scheduled_at has passed.
// Rows locked by another producer are skipped.
func (r *JobRepository) SelectDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]*ActivationJobEntity, error) {
	query := `SELECT ` + jobColumns + ` FROM activation_jobs
	          WHERE completed_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= $1
	          ORDER BY scheduled_at
	          LIMIT $2
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due activation jobs")
	}
	defer rows.Close()

	var jobs []*ActivationJobEntity
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan activation job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*ActivationJobEntity, error) {
	query := `SELECT ` + jobColumns + ` FROM activation_jobs WHERE id = $1 FOR UPDATE`
	job, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func (r *JobRepository) SelectByReference(ctx context.Context, reference string) (*ActivationJobEntity, error) {
	query := `SELECT ` + jobColumns + ` FROM activation_jobs WHERE payment_reference = $1`
	job, err := scanJob(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

// Update writes the mutable scheduling fields of a job.
func (r *JobRepository) Update(ctx context.Context, tx pgx.Tx, entity *ActivationJobEntity) error {
	query := `UPDATE activation_jobs
	          SET scheduled_at = $2, publish_attempts = $3, attempts = $4, completed_at = $5, error = $6, updated_at = NOW()
	          WHERE id = $1`
	tag, err := tx.Exec(ctx, query, entity.ID, entity.ScheduledAt, entity.PublishAttempts, entity.Attempts,
		entity.CompletedAt, entity.Error)
	if err != nil {
		return errors.Wrapf(err, "update activation job %s", entity.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reschedule sets the next publish time of a job that is still unfinished. A job
// completed in the meantime is left untouched and reported as not rescheduled.
func (r *JobRepository) Reschedule(ctx context.Context, tx pgx.Tx, id uuid.UUID, scheduledAt *time.Time, lastError string) (bool, error) {
	query := `UPDATE activation_jobs SET scheduled_at = $2, error = $3, updated_at = NOW()
	          WHERE id = $1 AND completed_at IS NULL`
	tag, err := tx.Exec(ctx, query, id, scheduledAt, lastError)
	if err != nil {
		return false, errors.Wrapf(err, "reschedule activation job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (*ActivationJobEntity, error) {
	var entity ActivationJobEntity
	err := row.Scan(
		&entity.ID,
		&entity.PaymentReference,
		&entity.UserID,
		&entity.ScheduledAt,
		&entity.PublishAttempts,
		&entity.Attempts,
		&entity.CompletedAt,
		&entity.Error,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
