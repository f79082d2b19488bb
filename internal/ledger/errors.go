package ledger

import (
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Public call-to-action attached to InsufficientFunds so clients can route the
// user to a purchase or an upgrade.
var fundingActions = map[string]any{"actions": []string{"purchase_tokens", "upgrade_plan"}}

// ErrInsufficientFunds builds the expected "nothing left to spend" outcome.
func ErrInsufficientFunds() error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "no subscription, trial or token balance available").
		WithDetails(fundingActions)
}

func errAccountNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
}

// IsInsufficientFunds reports whether err is the InsufficientFunds outcome.
func IsInsufficientFunds(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds)
}

// IsLockContention reports whether err is a retryable lock failure.
func IsLockContention(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeLockContention)
}

// IsNotFound reports whether err is a missing account or transaction.
func IsNotFound(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeNotFound)
}
