package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// ClassifyError maps a Stripe API failure onto the service taxonomy. Card
// declines and invalid requests are terminal; rate limits, connectivity and
// 5xx responses are retryable dependency failures.
func ClassifyError(err error, message string) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment method declined")
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, message)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, message)
	}
}
