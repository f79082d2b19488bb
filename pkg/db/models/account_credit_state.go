package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/enums"
)

// AccountCreditState is the single mutable balance row per account.
type AccountCreditState struct {
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`

	TrialRemaining int `gorm:"column:trial_remaining;not null;default:0"`
	TrialUsed      int `gorm:"column:trial_used;not null;default:0"`

	TokenBalance      int64 `gorm:"column:token_balance;not null;default:0"`
	LifetimePurchased int64 `gorm:"column:lifetime_purchased;not null;default:0"`
	LifetimeConsumed  int64 `gorm:"column:lifetime_consumed;not null;default:0"`

	SubscriptionStatus    enums.SubscriptionStatus `gorm:"column:subscription_status;type:text;not null;default:none"`
	SubscriptionPeriodEnd *time.Time               `gorm:"column:subscription_period_end"`

	AutoReloadEnabled       bool       `gorm:"column:auto_reload_enabled;not null;default:false"`
	AutoReloadThreshold     int64      `gorm:"column:auto_reload_threshold;not null;default:1"`
	AutoReloadTopUp         int64      `gorm:"column:auto_reload_top_up;not null;default:0"`
	AutoReloadFailures      int        `gorm:"column:auto_reload_failures;not null;default:0"`
	AutoReloadLastAttemptAt *time.Time `gorm:"column:auto_reload_last_attempt_at"`

	StripeCustomerID      *string `gorm:"column:stripe_customer_id"`
	StripePaymentMethodID *string `gorm:"column:stripe_payment_method_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AccountCreditState) TableName() string {
	return "account_credit_state"
}

// AutoReloadConfig is the auto-reload portion of the credit row.
type AutoReloadConfig struct {
	Enabled       bool       `json:"enabled"`
	Threshold     int64      `json:"threshold"`
	TopUpAmount   int64      `json:"top_up_amount"`
	Failures      int        `json:"consecutive_failures"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

func (s AccountCreditState) AutoReload() AutoReloadConfig {
	return AutoReloadConfig{
		Enabled:       s.AutoReloadEnabled,
		Threshold:     s.AutoReloadThreshold,
		TopUpAmount:   s.AutoReloadTopUp,
		Failures:      s.AutoReloadFailures,
		LastAttemptAt: s.AutoReloadLastAttemptAt,
	}
}
