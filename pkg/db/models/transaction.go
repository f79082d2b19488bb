package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
)

// Transaction is an append-only record of one balance mutation.
type Transaction struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID             uuid.UUID             `gorm:"column:account_id;type:uuid;not null"`
	Kind                  enums.TransactionKind `gorm:"column:kind;type:text;not null"`
	Amount                int64                 `gorm:"column:amount;not null"`
	BalanceAfter          int64                 `gorm:"column:balance_after;not null"`
	ExternalEventID       *string               `gorm:"column:external_event_id"`
	ReversesTransactionID *uuid.UUID            `gorm:"column:reverses_transaction_id;type:uuid"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
}
