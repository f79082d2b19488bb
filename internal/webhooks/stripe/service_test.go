package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/internal/reconcile"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

type fakeReconciler struct {
	events []reconcile.Event
	result reconcile.Result
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, event reconcile.Event) (reconcile.Result, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return "", f.err
	}
	if f.result == "" {
		return reconcile.ResultApplied, nil
	}
	return f.result, nil
}

type fakeSyncer struct {
	subs []*stripe.Subscription
	err  error
}

func (f *fakeSyncer) Sync(_ context.Context, sub *stripe.Subscription) error {
	f.subs = append(f.subs, sub)
	return f.err
}

type paymentFailure struct {
	accountID       uuid.UUID
	paymentIntentID string
	reason          string
}

type fakeAutoReload struct {
	failures []paymentFailure
	err      error
}

func (f *fakeAutoReload) RecordPaymentFailure(_ context.Context, accountID uuid.UUID, paymentIntentID, reason string) error {
	f.failures = append(f.failures, paymentFailure{accountID: accountID, paymentIntentID: paymentIntentID, reason: reason})
	return f.err
}

func newTestService(t *testing.T) (*Service, *fakeReconciler, *fakeSyncer) {
	t.Helper()
	rec := &fakeReconciler{}
	syncer := &fakeSyncer{}
	svc, err := NewService(ServiceParams{Reconciler: rec, Subscriptions: syncer})
	require.NoError(t, err)
	return svc, rec, syncer
}

func eventOf(t *testing.T, typ stripe.EventType, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_" + uuid.NewString(), Type: typ, Data: &stripe.EventData{Raw: raw}}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Reconciler: &fakeReconciler{}})
	require.Error(t, err)
}

func TestPaymentIntentSucceededReconciles(t *testing.T) {
	svc, rec, _ := newTestService(t)
	accountID := uuid.New()
	pi := &stripe.PaymentIntent{
		ID: "pi_123",
		Metadata: map[string]string{
			purchases.MetadataAccountID:   accountID.String(),
			purchases.MetadataCreditKind:  string(enums.TransactionTokenCreditAutoReload),
			purchases.MetadataTokenAmount: "50",
		},
	}

	require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypePaymentIntentSucceeded, pi)))
	require.Len(t, rec.events, 1)
	assert.Equal(t, reconcile.Event{
		ExternalEventID: "pi_123",
		AccountID:       accountID,
		CreditKind:      enums.TransactionTokenCreditAutoReload,
		Amount:          50,
	}, rec.events[0])
}

func TestPaymentIntentDefaultsToPurchaseKind(t *testing.T) {
	svc, rec, _ := newTestService(t)
	pi := &stripe.PaymentIntent{
		ID: "pi_456",
		Metadata: map[string]string{
			purchases.MetadataAccountID:   uuid.NewString(),
			purchases.MetadataTokenAmount: "10",
		},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypePaymentIntentSucceeded, pi)))
	require.Len(t, rec.events, 1)
	assert.Equal(t, enums.TransactionTokenCreditPurchase, rec.events[0].CreditKind)
}

func TestPaymentIntentWithoutLedgerMetadataIsAcknowledged(t *testing.T) {
	svc, rec, _ := newTestService(t)
	cases := map[string]map[string]string{
		"no metadata":    nil,
		"bad account":    {purchases.MetadataAccountID: "x", purchases.MetadataTokenAmount: "1"},
		"missing amount": {purchases.MetadataAccountID: uuid.NewString()},
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			pi := &stripe.PaymentIntent{ID: "pi_" + name, Metadata: md}
			require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypePaymentIntentSucceeded, pi)))
		})
	}
	assert.Empty(t, rec.events)
}

func TestReconcileStorageErrorsPropagate(t *testing.T) {
	svc, rec, _ := newTestService(t)
	rec.err = errors.New("db down")
	pi := &stripe.PaymentIntent{
		ID: "pi_err",
		Metadata: map[string]string{
			purchases.MetadataAccountID:   uuid.NewString(),
			purchases.MetadataTokenAmount: "5",
		},
	}
	err := svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypePaymentIntentSucceeded, pi))
	require.Error(t, err)
}

func TestSubscriptionEventsSync(t *testing.T) {
	svc, _, syncer := newTestService(t)
	sub := &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusPastDue,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{CurrentPeriodEnd: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Unix()},
		}},
	}
	for _, typ := range []stripe.EventType{
		stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
	} {
		require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, typ, sub)))
	}
	require.Len(t, syncer.subs, 3)
	assert.Equal(t, "sub_1", syncer.subs[0].ID)
	assert.Equal(t, stripe.SubscriptionStatusPastDue, syncer.subs[0].Status)
}

func TestUnroutableSubscriptionIsAcknowledged(t *testing.T) {
	svc, _, syncer := newTestService(t)
	syncer.err = pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	err := svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{ID: "sub_2"}))
	require.NoError(t, err)

	syncer.err = errors.New("db down")
	err = svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{ID: "sub_2"}))
	require.Error(t, err)
}

func TestUnhandledEventsAreIgnored(t *testing.T) {
	svc, rec, syncer := newTestService(t)
	require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypeInvoicePaid, map[string]any{"id": "in_1"})))
	require.NoError(t, svc.HandleEvent(context.Background(), eventOf(t, stripe.EventTypePaymentIntentPaymentFailed, map[string]any{"id": "pi_9"})))
	assert.Empty(t, rec.events)
	assert.Empty(t, syncer.subs)

	err := svc.HandleEvent(context.Background(), &stripe.Event{Type: stripe.EventTypePaymentIntentSucceeded})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestAutoReloadPaymentFailureIsRecorded(t *testing.T) {
	reload := &fakeAutoReload{}
	svc, err := NewService(ServiceParams{Reconciler: &fakeReconciler{}, Subscriptions: &fakeSyncer{}, AutoReload: reload})
	require.NoError(t, err)
	accountID := uuid.New()

	failed := func(id, kind string) *stripe.Event {
		return eventOf(t, stripe.EventTypePaymentIntentPaymentFailed, &stripe.PaymentIntent{
			ID:     id,
			Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
			Metadata: map[string]string{
				purchases.MetadataAccountID:   accountID.String(),
				purchases.MetadataCreditKind:  kind,
				purchases.MetadataTokenAmount: "50",
			},
			LastPaymentError: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."},
		})
	}

	require.NoError(t, svc.HandleEvent(context.Background(), failed("pi_auto", string(enums.TransactionTokenCreditAutoReload))))
	require.NoError(t, svc.HandleEvent(context.Background(), failed("pi_manual", string(enums.TransactionTokenCreditPurchase))))

	require.Len(t, reload.failures, 1)
	assert.Equal(t, paymentFailure{accountID: accountID, paymentIntentID: "pi_auto", reason: "Your card was declined."}, reload.failures[0])

	reload.err = pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	require.NoError(t, svc.HandleEvent(context.Background(), failed("pi_gone", string(enums.TransactionTokenCreditAutoReload))))

	reload.err = errors.New("db down")
	assert.Error(t, svc.HandleEvent(context.Background(), failed("pi_retry", string(enums.TransactionTokenCreditAutoReload))))
}
