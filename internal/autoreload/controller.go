// Package autoreload tops up token balances that fall below a configured
// threshold, throttled per account and switched off after repeated failures.
package autoreload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/metrics"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

const (
	defaultThrottle    = 60 * time.Second
	defaultMaxFailures = 3
)

// TriggerResult says what MaybeTrigger did.
type TriggerResult string

const (
	ResultTriggered      TriggerResult = "triggered"
	ResultThrottled      TriggerResult = "throttled"
	ResultDisabled       TriggerResult = "disabled"
	ResultAboveThreshold TriggerResult = "above_threshold"
	ResultFailed         TriggerResult = "failed"
)

// Config is the user-facing auto-reload setting.
type Config struct {
	Enabled         bool
	Threshold       int64
	TopUpAmount     int64
	PaymentMethodID string
}

type ControllerParams struct {
	TxRunner    db.TxRunner
	Repo        Repository
	Gateway     purchases.Gateway
	Outbox      outbox.Emitter
	Policy      retry.Policy
	Throttle    time.Duration
	MaxFailures int
	MinTopUp    int64
	Metrics     *metrics.LedgerMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

type Controller struct {
	tx          db.TxRunner
	repo        Repository
	gateway     purchases.Gateway
	outbox      outbox.Emitter
	policy      retry.Policy
	throttle    time.Duration
	maxFailures int
	minTopUp    int64
	metrics     *metrics.LedgerMetrics
	logg        *logger.Logger
	now         func() time.Time
}

func NewController(params ControllerParams) (*Controller, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("auto-reload repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("purchase gateway required")
	}
	if params.Throttle <= 0 {
		params.Throttle = defaultThrottle
	}
	if params.MaxFailures <= 0 {
		params.MaxFailures = defaultMaxFailures
	}
	if params.MinTopUp < 1 {
		params.MinTopUp = 1
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		tx:          params.TxRunner,
		repo:        params.Repo,
		gateway:     params.Gateway,
		outbox:      params.Outbox,
		policy:      params.Policy,
		throttle:    params.Throttle,
		maxFailures: params.MaxFailures,
		minTopUp:    params.MinTopUp,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         params.Now,
	}, nil
}

// MaybeTrigger starts a top-up when the account qualifies. Only the caller
// that wins the claim talks to the gateway.
func (c *Controller) MaybeTrigger(ctx context.Context, accountID uuid.UUID) (TriggerResult, error) {
	ctx = c.logg.WithAccountID(ctx, accountID.String())
	state, err := c.repo.Load(ctx, accountID)
	if err != nil {
		return "", err
	}
	cfg := state.AutoReload()

	switch {
	case !cfg.Enabled:
		return c.result(ResultDisabled), nil
	case state.TokenBalance >= cfg.Threshold:
		return c.result(ResultAboveThreshold), nil
	case state.StripePaymentMethodID == nil || state.StripeCustomerID == nil:
		c.logg.Warn(ctx, "auto-reload enabled without a saved payment method")
		return c.result(ResultDisabled), nil
	}

	now := c.now()
	cooldown := c.cooldown(cfg.Failures)
	if cfg.LastAttemptAt != nil && now.Sub(*cfg.LastAttemptAt) < cooldown {
		return c.result(ResultThrottled), nil
	}
	won, err := c.repo.Claim(ctx, accountID, cfg.Failures, now.Add(-cooldown), now)
	if err != nil {
		return "", fmt.Errorf("claim auto-reload attempt: %w", err)
	}
	if !won {
		return c.result(ResultThrottled), nil
	}

	req := purchases.PurchaseRequest{
		AccountID:       accountID,
		Tokens:          cfg.TopUpAmount,
		Kind:            enums.TransactionTokenCreditAutoReload,
		CustomerID:      *state.StripeCustomerID,
		PaymentMethodID: *state.StripePaymentMethodID,
		OffSession:      true,
		IdempotencyKey:  fmt.Sprintf("autoreload:%s:%d", accountID, now.Unix()),
	}
	var purchase *purchases.Purchase
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		p, err := c.gateway.CreatePurchase(ctx, req)
		if err != nil {
			return err
		}
		purchase = p
		return nil
	}, pkgerrors.IsRetryable)
	if err != nil {
		return c.fail(ctx, accountID, err)
	}

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": purchase.ID,
		"tokens":            cfg.TopUpAmount,
	}), "auto-reload purchase initiated")
	return c.result(ResultTriggered), nil
}

func (c *Controller) fail(ctx context.Context, accountID uuid.UUID, cause error) (TriggerResult, error) {
	c.logg.Warn(c.logg.WithField(ctx, "error", cause.Error()), "auto-reload purchase failed")
	if err := c.recordFailure(ctx, accountID, cause); err != nil {
		c.logg.Error(ctx, "failed to record auto-reload failure", err)
	}
	c.metrics.AutoReload(string(ResultFailed))
	return ResultFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "auto-reload purchase initiation failed")
}

// RecordPaymentFailure counts an off-session top-up that Stripe accepted but
// whose payment failed later. It draws on the same failure budget as
// initiation errors. Accounts with auto-reload already off are left alone.
func (c *Controller) RecordPaymentFailure(ctx context.Context, accountID uuid.UUID, paymentIntentID, reason string) error {
	ctx = c.logg.WithFields(ctx, map[string]any{
		"account_id":        accountID.String(),
		"payment_intent_id": paymentIntentID,
	})
	state, err := c.repo.Load(ctx, accountID)
	if err != nil {
		return err
	}
	if !state.AutoReloadEnabled {
		c.logg.Debug(ctx, "auto-reload payment failed after auto-reload was turned off")
		return nil
	}
	if reason == "" {
		reason = "payment failed"
	}
	cause := fmt.Errorf("payment intent %s: %s", paymentIntentID, reason)
	c.logg.Warn(c.logg.WithField(ctx, "error", cause.Error()), "auto-reload payment failed")
	if err := c.recordFailure(ctx, accountID, cause); err != nil {
		return fmt.Errorf("record auto-reload payment failure: %w", err)
	}
	c.metrics.AutoReload(string(ResultFailed))
	return nil
}

// recordFailure bumps the failure counter and announces the switch-off when
// this failure is the one that reaches the limit.
func (c *Controller) recordFailure(ctx context.Context, accountID uuid.UUID, cause error) error {
	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		state, err := c.repo.WithTx(tx).RecordFailure(ctx, accountID, c.maxFailures, c.now())
		if err != nil {
			return err
		}
		if state.AutoReloadEnabled || state.AutoReloadFailures != c.maxFailures {
			return nil
		}
		return c.disabled(ctx, tx, state, cause)
	})
}

func (c *Controller) disabled(ctx context.Context, tx *gorm.DB, state *models.AccountCreditState, cause error) error {
	c.logg.Warn(c.logg.WithField(ctx, "failures", state.AutoReloadFailures), "auto-reload disabled after repeated failures")
	if c.outbox == nil {
		return nil
	}
	return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAutoReloadDisabled,
		AggregateType: enums.AggregateAccount,
		AggregateID:   state.AccountID,
		AccountID:     state.AccountID,
		Data: payloads.AutoReloadDisabledEvent{
			AccountID:  state.AccountID,
			Failures:   state.AutoReloadFailures,
			LastError:  cause.Error(),
			DisabledAt: c.now(),
		},
	})
}

// cooldown is the wait owed before the next attempt: the throttle window, or
// the retry curve's delay after consecutive failures when that is longer.
func (c *Controller) cooldown(failures int) time.Duration {
	backoff := c.policy.Delay(failures)
	if backoff > c.throttle {
		return backoff
	}
	return c.throttle
}

func (c *Controller) result(r TriggerResult) TriggerResult {
	c.metrics.AutoReload(string(r))
	return r
}

// Configure stores the account's auto-reload setting. Enabling clears the
// failure counter and needs a saved or supplied payment method.
func (c *Controller) Configure(ctx context.Context, accountID uuid.UUID, cfg Config) (*models.AutoReloadConfig, error) {
	cfg.PaymentMethodID = strings.TrimSpace(cfg.PaymentMethodID)
	if cfg.Threshold < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must be at least 1")
	}
	if cfg.TopUpAmount < c.minTopUp {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("top-up amount must be at least %d", c.minTopUp))
	}

	var updated *models.AccountCreditState
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)
		current, err := repo.Load(ctx, accountID)
		if err != nil {
			return err
		}
		if cfg.Enabled && cfg.PaymentMethodID == "" && current.StripePaymentMethodID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "a payment method is required to enable auto-reload")
		}
		if err := repo.Configure(ctx, accountID, cfg, c.now()); err != nil {
			return err
		}
		updated, err = repo.Load(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := updated.AutoReload()
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"enabled":    out.Enabled,
		"threshold":  out.Threshold,
		"top_up":     out.TopUpAmount,
	}), "auto-reload configured")
	return &out, nil
}
