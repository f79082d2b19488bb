// Package stripewebhook routes verified Stripe events to the ledger.
package stripewebhook

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/internal/reconcile"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

type reconciler interface {
	Reconcile(ctx context.Context, event reconcile.Event) (reconcile.Result, error)
}

type subscriptionSyncer interface {
	Sync(ctx context.Context, sub *stripe.Subscription) error
}

type autoReloadFailures interface {
	RecordPaymentFailure(ctx context.Context, accountID uuid.UUID, paymentIntentID, reason string) error
}

type ServiceParams struct {
	Reconciler    reconciler
	Subscriptions subscriptionSyncer
	AutoReload    autoReloadFailures
	Logger        *logger.Logger
}

type Service struct {
	reconciler    reconciler
	subscriptions subscriptionSyncer
	autoReload    autoReloadFailures
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription syncer required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		reconciler:    params.Reconciler,
		subscriptions: params.Subscriptions,
		autoReload:    params.AutoReload,
		logg:          params.Logger,
	}, nil
}

// HandleEvent applies one verified event. A nil return acknowledges the
// delivery; returned errors make Stripe redeliver.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.creditPayment(ctx, &pi)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.paymentFailed(ctx, &pi)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, &sub)
	default:
		s.logg.Debug(ctx, "stripe event ignored")
		return nil
	}
}

func (s *Service) creditPayment(ctx context.Context, pi *stripe.PaymentIntent) error {
	event, reason := reconcileEvent(pi)
	if reason != "" {
		// Payments we did not initiate carry no ledger metadata.
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payment_intent_id": pi.ID,
			"reason":            reason,
		}), "payment intent skipped")
		return nil
	}
	_, err := s.reconciler.Reconcile(ctx, event)
	return err
}

// paymentFailed feeds failed auto-reload charges into the auto-reload failure
// budget. Failed one-off purchases credit nothing and are only logged.
func (s *Service) paymentFailed(ctx context.Context, pi *stripe.PaymentIntent) error {
	ctx = s.logg.WithField(ctx, "payment_intent_id", pi.ID)
	kind := enums.TransactionKind(pi.Metadata[purchases.MetadataCreditKind])
	if kind != enums.TransactionTokenCreditAutoReload || s.autoReload == nil {
		s.logg.Warn(ctx, "payment intent failed")
		return nil
	}
	accountID, err := uuid.Parse(strings.TrimSpace(pi.Metadata[purchases.MetadataAccountID]))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", "account_id metadata invalid"), "auto-reload payment failure skipped")
		return nil
	}

	err = s.autoReload.RecordPaymentFailure(ctx, accountID, pi.ID, failureReason(pi))
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(ctx, "auto-reload payment failure for unknown account")
		return nil
	}
	return err
}

func failureReason(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError == nil {
		return ""
	}
	if pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}
	return string(pi.LastPaymentError.Code)
}

func reconcileEvent(pi *stripe.PaymentIntent) (reconcile.Event, string) {
	rawAccount := strings.TrimSpace(pi.Metadata[purchases.MetadataAccountID])
	if rawAccount == "" {
		return reconcile.Event{}, "account_id metadata missing"
	}
	accountID, err := uuid.Parse(rawAccount)
	if err != nil {
		return reconcile.Event{}, "account_id metadata invalid"
	}
	amount, err := strconv.ParseInt(pi.Metadata[purchases.MetadataTokenAmount], 10, 64)
	if err != nil {
		return reconcile.Event{}, "token_amount metadata invalid"
	}
	kind := enums.TransactionKind(pi.Metadata[purchases.MetadataCreditKind])
	if kind == "" {
		kind = enums.TransactionTokenCreditPurchase
	}
	return reconcile.Event{
		ExternalEventID: pi.ID,
		AccountID:       accountID,
		CreditKind:      kind,
		Amount:          amount,
	}, ""
}

func (s *Service) syncSubscription(ctx context.Context, sub *stripe.Subscription) error {
	err := s.subscriptions.Sync(ctx, sub)
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) || pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"subscription_id": sub.ID,
			"error":           err.Error(),
		}), "subscription event not routable")
		return nil
	}
	return err
}
