package authorization

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

type accountReader interface {
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
}

// Resolver answers which funding source would pay for one unit of work. The
// answer is advisory: it reads without locking and the spend path decides again
// under the row lock.
type Resolver struct {
	accounts accountReader
}

func NewResolver(accounts accountReader) (*Resolver, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account reader required")
	}
	return &Resolver{accounts: accounts}, nil
}

// Resolve returns the funding source or an InsufficientFunds error.
func (r *Resolver) Resolve(ctx context.Context, accountID uuid.UUID) (enums.FundingSource, error) {
	if accountID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	state, err := r.accounts.FindAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return Decide(state)
}

// Decide applies the funding hierarchy to a credit row: subscription (active or
// past_due grace), then trial, then tokens.
func Decide(state *models.AccountCreditState) (enums.FundingSource, error) {
	if state == nil {
		return "", fmt.Errorf("credit state is required")
	}
	switch {
	case state.SubscriptionStatus.Authorizes():
		return enums.FundingSourceSubscription, nil
	case state.TrialRemaining > 0:
		return enums.FundingSourceTrial, nil
	case state.TokenBalance > 0:
		return enums.FundingSourceToken, nil
	default:
		return "", ledger.ErrInsufficientFunds()
	}
}
