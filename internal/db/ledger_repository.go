package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const (
	LedgerTypeActivation   = "Activation Payment"
	LedgerSourceGateway    = "PayHero"
	LedgerActivationDetail = "Account activation fee"
)

// LedgerRepository appends to the transactions table. Rows are never updated.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// InsertActivationFee appends the activation debit for a payment reference. The
// unique source_reference makes repeated calls for the same payment a no-op;
// inserted reports whether a row was written.
func (r *LedgerRepository) InsertActivationFee(ctx context.Context, tx pgx.Tx, userID uuid.UUID, reference string, fee int64) (inserted bool, err error) {
	query := `INSERT INTO transactions (id, user_id, type, amount, balance_after, source, source_reference, description)
	          SELECT $1, up.id, $3, $4, up.wallet_balance, $5, $6, $7
	          FROM user_profiles up WHERE up.id = $2
	          ON CONFLICT (source_reference) DO NOTHING`
	tag, err := tx.Exec(ctx, query, uuid.New(), userID, LedgerTypeActivation, -fee, LedgerSourceGateway, reference, LedgerActivationDetail)
	if err != nil {
		return false, errors.Wrapf(err, "insert activation fee for %s", reference)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LedgerRepository) SelectByUser(ctx context.Context, userID uuid.UUID) ([]*LedgerEntryEntity, error) {
	query := `SELECT id, user_id, type, amount, balance_after, COALESCE(source, ''), source_reference,
	                 COALESCE(description, ''), created_at
	          FROM transactions WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select transactions")
	}
	defer rows.Close()

	var entries []*LedgerEntryEntity
	for rows.Next() {
		var e LedgerEntryEntity
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Source, &e.SourceReference,
			&e.Description, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
