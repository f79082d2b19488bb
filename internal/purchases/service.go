package purchases

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

type accountReader interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
}

type ServiceParams struct {
	Gateway   Gateway
	Accounts  accountReader
	MinTokens int64
	MaxTokens int64
	Logger    *logger.Logger
}

// Service starts manual, on-session token purchases.
type Service struct {
	gateway  Gateway
	accounts accountReader
	min      int64
	max      int64
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("purchase gateway required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account reader required")
	}
	if params.MinTokens < 1 {
		params.MinTokens = 1
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		gateway:  params.Gateway,
		accounts: params.Accounts,
		min:      params.MinTokens,
		max:      params.MaxTokens,
		logg:     params.Logger,
	}, nil
}

// Start creates a PaymentIntent for tokens. The client confirms it with the
// returned secret; the credit lands when payment_intent.succeeded arrives.
func (s *Service) Start(ctx context.Context, accountID uuid.UUID, tokens int64, idempotencyKey string) (*Purchase, error) {
	if tokens < s.min {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("tokens must be at least %d", s.min))
	}
	if s.max > 0 && tokens > s.max {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("tokens must be at most %d", s.max))
	}
	state, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	req := PurchaseRequest{
		AccountID:      accountID,
		Tokens:         tokens,
		Kind:           enums.TransactionTokenCreditPurchase,
		IdempotencyKey: idempotencyKey,
	}
	if state.StripeCustomerID != nil {
		req.CustomerID = *state.StripeCustomerID
	}
	purchase, err := s.gateway.CreatePurchase(ctx, req)
	if err != nil {
		s.logg.Error(s.logg.WithAccountID(ctx, accountID.String()), "purchase initiation failed", err)
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id":        accountID.String(),
		"payment_intent_id": purchase.ID,
		"tokens":            tokens,
	}), "token purchase started")
	return purchase, nil
}
