// Package subscriptions mirrors the billing provider's subscription state onto
// credit accounts and expires past-due subscriptions after their grace period.
package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox/payloads"
)

const expireBatchSize = 200

type ServiceParams struct {
	TxRunner db.TxRunner
	Repo     Repository
	Ledger   ledger.Repository
	Outbox   outbox.Emitter
	Grace    time.Duration
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	tx     db.TxRunner
	repo   Repository
	ledger ledger.Repository
	outbox outbox.Emitter
	grace  time.Duration
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Grace < 0 {
		return nil, fmt.Errorf("grace must be >= 0")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:     params.TxRunner,
		repo:   params.Repo,
		ledger: params.Ledger,
		outbox: params.Outbox,
		grace:  params.Grace,
		logg:   params.Logger,
		now:    params.Now,
	}, nil
}

// Sync applies a subscription lifecycle event to the owning account and
// remembers the Stripe customer for later off-session charges.
func (s *Service) Sync(ctx context.Context, sub *stripe.Subscription) error {
	snap, err := SnapshotFromStripe(sub)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledgerRepo := s.ledger.WithTx(tx)
		accountID := snap.AccountID
		if accountID == uuid.Nil {
			state, err := ledgerRepo.FindAccountByStripeCustomer(ctx, snap.CustomerID)
			if err != nil {
				return err
			}
			accountID = state.AccountID
		}
		if snap.CustomerID != "" {
			if err := ledgerRepo.AttachStripeCustomer(ctx, accountID, snap.CustomerID); err != nil {
				return err
			}
		}
		if err := s.repo.WithTx(tx).UpdateStatus(ctx, accountID, snap.Status, snap.PeriodEnd, s.now()); err != nil {
			return err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"account_id":      accountID.String(),
			"subscription_id": snap.SubscriptionID,
			"status":          snap.Status.String(),
		}), "subscription synced")
		return nil
	})
}

// ExpireGrace cancels past-due subscriptions whose period ended more than the
// grace window ago. Each account is expired in its own transaction; failures
// are collected and the rest still run.
func (s *Service) ExpireGrace(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.grace)
	rows, err := s.repo.ListGraceExpired(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list grace-expired subscriptions: %w", err)
	}

	var (
		expired int
		errs    error
	)
	for i := range rows {
		row := rows[i]
		ok, err := s.expireOne(ctx, row, cutoff, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", row.AccountID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errs
}

func (s *Service) expireOne(ctx context.Context, row models.AccountCreditState, cutoff, now time.Time) (bool, error) {
	var expired bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Expire(ctx, row.AccountID, cutoff, now)
		if err != nil || !ok {
			return err
		}
		expired = true
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionExpired,
			AggregateType: enums.AggregateAccount,
			AggregateID:   row.AccountID,
			AccountID:     row.AccountID,
			OccurredAt:    now,
			Data: payloads.SubscriptionExpiredEvent{
				AccountID:      row.AccountID,
				PreviousStatus: row.SubscriptionStatus,
				PeriodEnd:      row.SubscriptionPeriodEnd,
				ExpiredAt:      now,
			},
		})
	})
	return expired, err
}
