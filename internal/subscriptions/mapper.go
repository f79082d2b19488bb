package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// MetadataAccountID is the subscription metadata key naming the ledger account.
const MetadataAccountID = "account_id"

// Snapshot is the part of a Stripe subscription the ledger keeps.
type Snapshot struct {
	SubscriptionID string
	AccountID      uuid.UUID
	CustomerID     string
	Status         enums.SubscriptionStatus
	PeriodEnd      *time.Time
}

// SnapshotFromStripe maps a Stripe subscription. AccountID is uuid.Nil when the
// metadata does not carry one; callers fall back to the customer id.
func SnapshotFromStripe(sub *stripe.Subscription) (*Snapshot, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is required")
	}
	snap := &Snapshot{
		SubscriptionID: sub.ID,
		Status:         enums.SubscriptionStatusFromStripe(string(sub.Status)),
		PeriodEnd:      periodEnd(sub),
	}
	if sub.Customer != nil {
		snap.CustomerID = strings.TrimSpace(sub.Customer.ID)
	}
	if raw := strings.TrimSpace(sub.Metadata[MetadataAccountID]); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account_id metadata")
		}
		snap.AccountID = id
	}
	if snap.AccountID == uuid.Nil && snap.CustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription carries neither account_id nor customer")
	}
	return snap, nil
}

// periodEnd takes the latest item period end; Stripe reports periods per item.
func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub.Items == nil {
		return nil
	}
	var latest int64
	for _, item := range sub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	if latest == 0 {
		return nil
	}
	t := time.Unix(latest, 0).UTC()
	return &t
}
