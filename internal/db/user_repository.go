package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, entity *UserProfileEntity) (*UserProfileEntity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	query := `INSERT INTO user_profiles (id, username, phone_number, referred_by)
	          VALUES ($1, $2, $3, $4)
	          RETURNING created_at`
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.Username, entity.PhoneNumber, entity.ReferredBy).
		Scan(&entity.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "insert user profile %s", entity.Username)
	}
	return entity, nil
}

func (r *UserRepository) SelectByID(ctx context.Context, id uuid.UUID) (*UserProfileEntity, error) {
	query := `SELECT id, username, phone_number, referred_by, is_activated, activation_date, wallet_balance,
	                 referral_balance, referral_earnings, total_earnings, level1_count, level2_count, level3_count, created_at
	          FROM user_profiles WHERE id = $1`

	var entity UserProfileEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&entity.ID,
		&entity.Username,
		&entity.PhoneNumber,
		&entity.ReferredBy,
		&entity.IsActivated,
		&entity.ActivationDate,
		&entity.WalletBalance,
		&entity.ReferralBalance,
		&entity.ReferralEarnings,
		&entity.TotalEarnings,
		&entity.Level1Count,
		&entity.Level2Count,
		&entity.Level3Count,
		&entity.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &entity, nil
}

// Activate flips is_activated for a user that is not yet active. exists is false
// when the profile is missing; activated is true only on the first flip.
func (r *UserRepository) Activate(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (exists, activated bool, err error) {
	query := `UPDATE user_profiles SET is_activated = TRUE, activation_date = $2, updated_at = NOW()
	          WHERE id = $1 AND is_activated = FALSE`
	tag, err := tx.Exec(ctx, query, id, at)
	if err != nil {
		return false, false, errors.Wrapf(err, "activate user %s", id)
	}
	if tag.RowsAffected() > 0 {
		return true, true, nil
	}

	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_profiles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, false, errors.Wrapf(err, "check user %s", id)
	}
	return exists, false, nil
}
