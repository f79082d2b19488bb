package credits

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/api/responses"
	"github.com/angelmondragon/creditledger-backend/api/validators"
	"github.com/angelmondragon/creditledger-backend/internal/spend"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

// SpendService authorizes units of work and settles their outcome.
type SpendService interface {
	Spend(ctx context.Context, accountID uuid.UUID) (*spend.Receipt, error)
	ReportOutcome(ctx context.Context, receipt spend.Receipt, outcome enums.WorkOutcome) (*spend.OutcomeResult, error)
}

type outcomeRequest struct {
	Receipt spend.Receipt `json:"receipt"`
	Outcome string        `json:"outcome" validate:"required,oneof=success failure"`
}

// Spend consumes one unit for the caller and returns the receipt the client
// must hand back with the outcome. Nothing left to spend answers 402 with the
// purchase and upgrade actions.
func Spend(svc SpendService, policy retry.Policy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		receipt, err := spend.SpendWithRetry(ctx, svc, accountID, policy)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, receipt)
	}
}

// Outcome reports whether the work behind a receipt succeeded. A failure on a
// trial or token receipt refunds the unit once; repeats are no-ops.
func Outcome(svc SpendService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		var body outcomeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if body.Receipt.AccountID != accountID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "receipt belongs to another account"))
			return
		}

		result, err := svc.ReportOutcome(ctx, body.Receipt, enums.WorkOutcome(body.Outcome))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
