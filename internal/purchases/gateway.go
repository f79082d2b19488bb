package purchases

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/creditledger-backend/pkg/stripe"
)

// PaymentIntent metadata read back by the webhook reconciler.
const (
	MetadataAccountID   = "account_id"
	MetadataCreditKind  = "credit_kind"
	MetadataTokenAmount = "token_amount"
)

// PurchaseRequest describes a token purchase to initiate with the gateway.
type PurchaseRequest struct {
	AccountID       uuid.UUID
	Tokens          int64
	Kind            enums.TransactionKind
	CustomerID      string
	PaymentMethodID string
	OffSession      bool
	IdempotencyKey  string
}

// Purchase is the gateway's handle on an initiated payment.
type Purchase struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
}

// Gateway initiates purchases. Settlement arrives later through the webhook.
type Gateway interface {
	CreatePurchase(ctx context.Context, req PurchaseRequest) (*Purchase, error)
}

type paymentIntentCreator func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

// StripeGateway creates PaymentIntents priced per token.
type StripeGateway struct {
	priceCents int64
	currency   string
	create     paymentIntentCreator
}

func NewStripeGateway(priceCents int64, currency string) *StripeGateway {
	return &StripeGateway{
		priceCents: priceCents,
		currency:   currency,
		create:     paymentintent.New,
	}
}

// CreatePurchase creates the PaymentIntent. Off-session requests are confirmed
// immediately against the saved payment method.
func (g *StripeGateway) CreatePurchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Tokens * g.priceCents),
		Currency: stripe.String(g.currency),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.OffSession {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.OffSession = stripe.Bool(true)
		params.Confirm = stripe.Bool(true)
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	params.AddMetadata(MetadataAccountID, req.AccountID.String())
	params.AddMetadata(MetadataCreditKind, string(req.Kind))
	params.AddMetadata(MetadataTokenAmount, strconv.FormatInt(req.Tokens, 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := g.create(params)
	if err != nil {
		return nil, pkgstripe.ClassifyError(err, "create payment intent")
	}
	return &Purchase{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}
