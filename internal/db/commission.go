package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// CommissionDistributor invokes the referral payout procedure.
type CommissionDistributor struct{}

func NewCommissionDistributor() *CommissionDistributor {
	return &CommissionDistributor{}
}

func (CommissionDistributor) Distribute(ctx context.Context, tx pgx.Tx, newUserID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT distribute_referral_commissions($1)`, newUserID); err != nil {
		return errors.Wrapf(err, "distribute referral commissions for %s", newUserID)
	}
	return nil
}
