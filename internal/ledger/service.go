package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/pagination"
)

// Service exposes account provisioning and read access to the ledger store.
type Service interface {
	EnsureAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, bool, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionPage, error)
}

// TransactionPage is one page of history, newest first. NextCursor is empty
// on the last page.
type TransactionPage struct {
	Transactions []models.Transaction
	NextCursor   string
}

type service struct {
	repo       Repository
	trialGrant int
}

// NewService wires a ledger service with the provided repository. trialGrant is
// the number of trial credits a new account starts with.
func NewService(repo Repository, trialGrant int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if trialGrant < 0 {
		return nil, fmt.Errorf("trial grant must be >= 0")
	}
	return &service{repo: repo, trialGrant: trialGrant}, nil
}

// EnsureAccount provisions the credit row if missing. The bool reports whether
// this call created it; provisioning twice never grants the trial twice.
func (s *service) EnsureAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, bool, error) {
	if accountID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	now := time.Now().UTC()
	state := &models.AccountCreditState{
		AccountID:           accountID,
		TrialRemaining:      s.trialGrant,
		SubscriptionStatus:  enums.SubscriptionStatusNone,
		AutoReloadThreshold: 1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	created, err := s.repo.CreateAccount(ctx, state)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "provision credit account")
	}
	current, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return current, created, nil
}

func (s *service) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.FindAccount(ctx, accountID)
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	rows, err := s.repo.ListTransactions(ctx, accountID, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(txn models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
	})
	return &TransactionPage{Transactions: rows, NextCursor: next}, nil
}
