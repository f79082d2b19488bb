package enums

import "fmt"

// TransactionKind maps to transactions.kind.
type TransactionKind string

const (
	TransactionTrialDebit            TransactionKind = "trial_debit"
	TransactionTrialRefund           TransactionKind = "trial_refund"
	TransactionTokenDebit            TransactionKind = "token_debit"
	TransactionTokenRefund           TransactionKind = "token_refund"
	TransactionTokenCreditPurchase   TransactionKind = "token_credit_purchase"
	TransactionTokenCreditAutoReload TransactionKind = "token_credit_autoreload"
)

var validTransactionKinds = []TransactionKind{
	TransactionTrialDebit,
	TransactionTrialRefund,
	TransactionTokenDebit,
	TransactionTokenRefund,
	TransactionTokenCreditPurchase,
	TransactionTokenCreditAutoReload,
}

// IsValid reports whether the value matches a known transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsCredit reports whether the kind is a webhook-applied token credit.
func (k TransactionKind) IsCredit() bool {
	return k == TransactionTokenCreditPurchase || k == TransactionTokenCreditAutoReload
}

// AffectsTokens reports whether the kind moves token_balance.
func (k TransactionKind) AffectsTokens() bool {
	switch k {
	case TransactionTokenDebit, TransactionTokenRefund, TransactionTokenCreditPurchase, TransactionTokenCreditAutoReload:
		return true
	default:
		return false
	}
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}

// DebitKindFor returns the debit transaction kind written for a metered source.
func DebitKindFor(source FundingSource) (TransactionKind, error) {
	switch source {
	case FundingSourceTrial:
		return TransactionTrialDebit, nil
	case FundingSourceToken:
		return TransactionTokenDebit, nil
	case FundingSourceSubscription:
		return "", fmt.Errorf("funding source %q is not metered", source)
	default:
		return "", fmt.Errorf("invalid funding source %q", source)
	}
}
