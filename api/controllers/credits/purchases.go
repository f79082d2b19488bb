package credits

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/api/middleware"
	"github.com/angelmondragon/creditledger-backend/api/responses"
	"github.com/angelmondragon/creditledger-backend/api/validators"
	"github.com/angelmondragon/creditledger-backend/internal/autoreload"
	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

const maxPaymentMethodIDLen = 255

type PurchaseService interface {
	Start(ctx context.Context, accountID uuid.UUID, tokens int64, idempotencyKey string) (*purchases.Purchase, error)
}

type AutoReloadService interface {
	Configure(ctx context.Context, accountID uuid.UUID, cfg autoreload.Config) (*models.AutoReloadConfig, error)
}

type purchaseRequest struct {
	Tokens int64 `json:"tokens" validate:"required,gt=0"`
}

type autoReloadRequest struct {
	Enabled         bool   `json:"enabled"`
	Threshold       int64  `json:"threshold" validate:"gte=1"`
	TopUpAmount     int64  `json:"top_up_amount" validate:"gte=1"`
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,max=255,stripe_id=pm"`
}

// Purchase starts an on-session token purchase and returns the client secret
// used to confirm payment. Tokens are credited when Stripe reports success.
func Purchase(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		var body purchaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		idemKey := strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader))
		purchase, err := svc.Start(ctx, accountID, body.Tokens, idemKey)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchase)
	}
}

// ConfigureAutoReload replaces the caller's auto-reload setting.
func ConfigureAutoReload(svc AutoReloadService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w)
		if !ok {
			return
		}

		var body autoReloadRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cfg, err := svc.Configure(ctx, accountID, autoreload.Config{
			Enabled:         body.Enabled,
			Threshold:       body.Threshold,
			TopUpAmount:     body.TopUpAmount,
			PaymentMethodID: validators.SanitizeString(body.PaymentMethodID, maxPaymentMethodIDLen),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cfg)
	}
}
