package credits

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/api/middleware"
	"github.com/angelmondragon/creditledger-backend/api/responses"
	"github.com/angelmondragon/creditledger-backend/api/validators"
	"github.com/angelmondragon/creditledger-backend/internal/authorization"
	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/pagination"
)

// LedgerService is the read and provisioning surface of the ledger.
type LedgerService interface {
	EnsureAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, bool, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*ledger.TransactionPage, error)
}

type balanceResponse struct {
	AccountID             uuid.UUID               `json:"account_id"`
	FundingSource         *enums.FundingSource    `json:"funding_source"`
	TrialRemaining        int                     `json:"trial_remaining"`
	TrialUsed             int                     `json:"trial_used"`
	TokenBalance          int64                   `json:"token_balance"`
	LifetimePurchased     int64                   `json:"lifetime_purchased"`
	LifetimeConsumed      int64                   `json:"lifetime_consumed"`
	SubscriptionStatus    string                  `json:"subscription_status"`
	SubscriptionPeriodEnd *time.Time              `json:"subscription_period_end,omitempty"`
	AutoReload            models.AutoReloadConfig `json:"auto_reload"`
}

type transactionResponse struct {
	ID                    uuid.UUID  `json:"id"`
	Kind                  string     `json:"kind"`
	Amount                int64      `json:"amount"`
	BalanceAfter          int64      `json:"balance_after"`
	ExternalEventID       *string    `json:"external_event_id,omitempty"`
	ReversesTransactionID *uuid.UUID `json:"reverses_transaction_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// CreateAccount provisions the caller's credit row with the trial grant. It
// answers 201 on first call and 200 afterwards.
func CreateAccount(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		state, created, err := svc.EnsureAccount(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, newBalanceResponse(state))
	}
}

// Balance returns the caller's credit state and the source that would fund
// the next unit of work, or null when nothing can.
func Balance(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		state, err := svc.GetAccount(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBalanceResponse(state))
	}
}

// Transactions lists the caller's ledger entries newest first. Pass the
// returned next_cursor back as ?cursor= for the following page.
func Transactions(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListTransactions(ctx, accountID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(page.Transactions))
		for _, txn := range page.Transactions {
			out = append(out, transactionResponse{
				ID:                    txn.ID,
				Kind:                  string(txn.Kind),
				Amount:                txn.Amount,
				BalanceAfter:          txn.BalanceAfter,
				ExternalEventID:       txn.ExternalEventID,
				ReversesTransactionID: txn.ReversesTransactionID,
				CreatedAt:             txn.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"transactions": out,
			"next_cursor":  page.NextCursor,
		})
	}
}

func newBalanceResponse(state *models.AccountCreditState) balanceResponse {
	resp := balanceResponse{
		AccountID:             state.AccountID,
		TrialRemaining:        state.TrialRemaining,
		TrialUsed:             state.TrialUsed,
		TokenBalance:          state.TokenBalance,
		LifetimePurchased:     state.LifetimePurchased,
		LifetimeConsumed:      state.LifetimeConsumed,
		SubscriptionStatus:    string(state.SubscriptionStatus),
		SubscriptionPeriodEnd: state.SubscriptionPeriodEnd,
		AutoReload:            state.AutoReload(),
	}
	if source, err := authorization.Decide(state); err == nil {
		resp.FundingSource = &source
	}
	return resp
}

func requireAccount(ctx context.Context, logg *logger.Logger, w http.ResponseWriter) (uuid.UUID, bool) {
	accountID := middleware.AccountIDFromContext(ctx)
	if accountID == uuid.Nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}
