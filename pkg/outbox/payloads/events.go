package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
)

// TokensCreditedEvent is emitted when a settled purchase lands in the ledger.
type TokensCreditedEvent struct {
	AccountID       uuid.UUID             `json:"account_id"`
	TransactionID   uuid.UUID             `json:"transaction_id"`
	Kind            enums.TransactionKind `json:"kind"`
	Amount          int64                 `json:"amount"`
	BalanceAfter    int64                 `json:"balance_after"`
	ExternalEventID string                `json:"external_event_id"`
}

// AutoReloadDisabledEvent reports that repeated top-up failures switched auto-reload off.
type AutoReloadDisabledEvent struct {
	AccountID  uuid.UUID `json:"account_id"`
	Failures   int       `json:"failures"`
	LastError  string    `json:"last_error,omitempty"`
	DisabledAt time.Time `json:"disabled_at"`
}

// SubscriptionExpiredEvent is emitted when a past-due subscription runs out of grace.
type SubscriptionExpiredEvent struct {
	AccountID      uuid.UUID                `json:"account_id"`
	PreviousStatus enums.SubscriptionStatus `json:"previous_status"`
	PeriodEnd      *time.Time               `json:"period_end,omitempty"`
	ExpiredAt      time.Time                `json:"expired_at"`
}
