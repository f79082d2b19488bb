package spend

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

type spender interface {
	Spend(ctx context.Context, accountID uuid.UUID) (*Receipt, error)
}

// SpendWithRetry re-runs the whole spend while it fails on lock contention.
// Every other error, InsufficientFunds included, returns immediately.
func SpendWithRetry(ctx context.Context, svc spender, accountID uuid.UUID, policy retry.Policy) (*Receipt, error) {
	var receipt *Receipt
	err := policy.Do(ctx, func(ctx context.Context) error {
		r, err := svc.Spend(ctx, accountID)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}, ledger.IsLockContention)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
