// Package reconcile credits settled payment events into the ledger exactly once
// per external event id.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/metrics"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox/payloads"
)

// Result is the outcome of one delivery.
type Result string

const (
	ResultApplied        Result = "applied"
	ResultAlreadyApplied Result = "already_applied"
	ResultRejected       Result = "rejected"
)

var errDuplicate = errors.New("external event already applied")

// Event is a settled payment as reported by the gateway.
type Event struct {
	ExternalEventID string
	AccountID       uuid.UUID
	CreditKind      enums.TransactionKind
	Amount          int64
}

type ServiceParams struct {
	TxRunner db.TxRunner
	Repo     ledger.Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type Reconciler struct {
	tx      db.TxRunner
	repo    ledger.Repository
	outbox  outbox.Emitter
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewReconciler(params ServiceParams) (*Reconciler, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		tx:      params.TxRunner,
		repo:    params.Repo,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

// Reconcile applies the event's credit. Redeliveries return ResultAlreadyApplied;
// the unique index on external_event_id is the authority, the lookup only
// short-circuits the common case.
func (r *Reconciler) Reconcile(ctx context.Context, event Event) (Result, error) {
	event.ExternalEventID = strings.TrimSpace(event.ExternalEventID)
	ctx = r.logg.WithFields(ctx, map[string]any{
		"external_event_id": event.ExternalEventID,
		"account_id":        event.AccountID.String(),
		"credit_kind":       string(event.CreditKind),
		"amount":            event.Amount,
	})

	if reason := event.invalid(); reason != "" {
		return r.reject(ctx, event, reason), nil
	}

	existing, err := r.repo.FindByExternalEventID(ctx, event.ExternalEventID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return r.duplicate(ctx, event), nil
	}

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return r.apply(ctx, tx, event)
	})
	switch {
	case errors.Is(err, errDuplicate):
		return r.duplicate(ctx, event), nil
	case ledger.IsNotFound(err):
		return r.reject(ctx, event, "unknown account"), nil
	case err != nil:
		r.metrics.Reconcile(string(event.CreditKind), "error")
		r.logg.Error(ctx, "reconcile failed", err)
		return "", err
	}

	r.metrics.Reconcile(string(event.CreditKind), string(ResultApplied))
	r.logg.Info(ctx, "payment event applied")
	return ResultApplied, nil
}

func (r *Reconciler) apply(ctx context.Context, tx *gorm.DB, event Event) error {
	repo := r.repo.WithTx(tx)

	after, err := repo.CreditTokens(ctx, event.AccountID, event.Amount)
	if err != nil {
		return err
	}
	externalID := event.ExternalEventID
	txn := &models.Transaction{
		ID:              uuid.New(),
		AccountID:       event.AccountID,
		Kind:            event.CreditKind,
		Amount:          event.Amount,
		BalanceAfter:    after.TokenBalance,
		ExternalEventID: &externalID,
		CreatedAt:       r.now(),
	}
	if err := repo.AppendTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, ledger.ExternalEventConstraint...) {
			return errDuplicate
		}
		return fmt.Errorf("append %s transaction: %w", event.CreditKind, err)
	}

	if event.CreditKind == enums.TransactionTokenCreditAutoReload {
		if err := repo.ResetAutoReloadFailures(ctx, event.AccountID); err != nil {
			return fmt.Errorf("reset auto-reload failures: %w", err)
		}
	}

	if r.outbox == nil {
		return nil
	}
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTokensCredited,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		AccountID:     event.AccountID,
		OccurredAt:    txn.CreatedAt,
		Data: payloads.TokensCreditedEvent{
			AccountID:       event.AccountID,
			TransactionID:   txn.ID,
			Kind:            event.CreditKind,
			Amount:          event.Amount,
			BalanceAfter:    after.TokenBalance,
			ExternalEventID: externalID,
		},
	})
}

func (r *Reconciler) duplicate(ctx context.Context, event Event) Result {
	r.metrics.Reconcile(string(event.CreditKind), string(ResultAlreadyApplied))
	r.logg.Debug(ctx, "payment event already applied")
	return ResultAlreadyApplied
}

func (r *Reconciler) reject(ctx context.Context, event Event, reason string) Result {
	r.metrics.Reconcile(string(event.CreditKind), string(ResultRejected))
	r.logg.Warn(r.logg.WithField(ctx, "reason", reason), "payment event rejected")
	return ResultRejected
}

func (e Event) invalid() string {
	switch {
	case e.ExternalEventID == "":
		return "external event id is required"
	case e.AccountID == uuid.Nil:
		return "account id is required"
	case e.Amount <= 0:
		return "amount must be positive"
	case !e.CreditKind.IsValid() || !e.CreditKind.IsCredit():
		return "credit kind is not a purchase credit"
	}
	return ""
}
