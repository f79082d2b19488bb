package purchases

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

func capturingGateway(intent *stripe.PaymentIntent, err error) (*StripeGateway, *[]*stripe.PaymentIntentParams) {
	var seen []*stripe.PaymentIntentParams
	g := NewStripeGateway(10, "usd")
	g.create = func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		seen = append(seen, params)
		return intent, err
	}
	return g, &seen
}

func TestStripeGatewayOnSessionPurchase(t *testing.T) {
	g, seen := capturingGateway(&stripe.PaymentIntent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil)
	accountID := uuid.New()

	purchase, err := g.CreatePurchase(context.Background(), PurchaseRequest{
		AccountID:      accountID,
		Tokens:         25,
		Kind:           enums.TransactionTokenCreditPurchase,
		CustomerID:     "cus_1",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", purchase.ID)
	assert.Equal(t, "pi_1_secret", purchase.ClientSecret)

	require.Len(t, *seen, 1)
	params := (*seen)[0]
	assert.EqualValues(t, 250, *params.Amount)
	assert.Equal(t, "usd", *params.Currency)
	assert.Equal(t, "cus_1", *params.Customer)
	assert.Nil(t, params.Confirm)
	require.NotNil(t, params.AutomaticPaymentMethods)
	assert.Equal(t, accountID.String(), params.Metadata[MetadataAccountID])
	assert.Equal(t, "token_credit_purchase", params.Metadata[MetadataCreditKind])
	assert.Equal(t, "25", params.Metadata[MetadataTokenAmount])
	require.NotNil(t, params.IdempotencyKey)
	assert.Equal(t, "idem-1", *params.IdempotencyKey)
}

func TestStripeGatewayOffSessionConfirms(t *testing.T) {
	g, seen := capturingGateway(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusProcessing}, nil)

	_, err := g.CreatePurchase(context.Background(), PurchaseRequest{
		AccountID:       uuid.New(),
		Tokens:          50,
		Kind:            enums.TransactionTokenCreditAutoReload,
		CustomerID:      "cus_2",
		PaymentMethodID: "pm_2",
		OffSession:      true,
	})
	require.NoError(t, err)

	params := (*seen)[0]
	assert.True(t, *params.OffSession)
	assert.True(t, *params.Confirm)
	assert.Equal(t, "pm_2", *params.PaymentMethod)
	assert.Equal(t, "token_credit_autoreload", params.Metadata[MetadataCreditKind])
}

func TestStripeGatewayClassifiesFailures(t *testing.T) {
	g, _ := capturingGateway(nil, errors.New("connection reset"))

	_, err := g.CreatePurchase(context.Background(), PurchaseRequest{AccountID: uuid.New(), Tokens: 10})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.IsRetryable(err))
}
