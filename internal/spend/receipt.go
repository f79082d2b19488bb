package spend

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Receipt proves one unit was authorized. Callers hand it back exactly once
// through ReportOutcome when the paid work finishes.
type Receipt struct {
	AccountID     uuid.UUID           `json:"account_id"`
	FundingSource enums.FundingSource `json:"funding_source"`
	TransactionID *uuid.UUID          `json:"transaction_id,omitempty"`
	IssuedAt      time.Time           `json:"issued_at"`
}

// OutcomeResult reports what ReportOutcome did. Refunded is false for
// successes, subscription receipts and receipts that were already reversed.
type OutcomeResult struct {
	Refunded            bool       `json:"refunded"`
	RefundTransactionID *uuid.UUID `json:"refund_transaction_id,omitempty"`
}

func (r Receipt) validate() error {
	if r.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "receipt account id is required")
	}
	if !r.FundingSource.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "receipt funding source is invalid")
	}
	if r.FundingSource.Metered() && (r.TransactionID == nil || *r.TransactionID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "receipt transaction id is required for metered funding")
	}
	return nil
}
