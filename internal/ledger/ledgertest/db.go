// Package ledgertest opens throwaway sqlite databases carrying the ledger schema.
package ledgertest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
)

// schema mirrors pkg/migrate/migrations in sqlite's dialect, keeping the CHECK
// constraints and partial unique indexes the ledger relies on.
var schema = []string{
	`CREATE TABLE account_credit_state (
		account_id TEXT PRIMARY KEY,
		trial_remaining INTEGER NOT NULL DEFAULT 0 CHECK (trial_remaining >= 0),
		trial_used INTEGER NOT NULL DEFAULT 0 CHECK (trial_used >= 0),
		token_balance INTEGER NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
		lifetime_purchased INTEGER NOT NULL DEFAULT 0,
		lifetime_consumed INTEGER NOT NULL DEFAULT 0,
		subscription_status TEXT NOT NULL DEFAULT 'none',
		subscription_period_end DATETIME NULL,
		auto_reload_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		auto_reload_threshold INTEGER NOT NULL DEFAULT 1 CHECK (auto_reload_threshold >= 1),
		auto_reload_top_up INTEGER NOT NULL DEFAULT 0,
		auto_reload_failures INTEGER NOT NULL DEFAULT 0,
		auto_reload_last_attempt_at DATETIME NULL,
		stripe_customer_id TEXT NULL,
		stripe_payment_method_id TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		external_event_id TEXT NULL,
		reverses_transaction_id TEXT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_transactions_external_event_id ON transactions (external_event_id) WHERE external_event_id IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_transactions_reverses_transaction_id ON transactions (reverses_transaction_id) WHERE reverses_transaction_id IS NOT NULL`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	)`,
}

// NewDB returns an isolated in-memory database. A single connection keeps
// concurrent callers serialized the way row locks serialize them in postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Account is a builder for seeded credit rows.
type Account struct {
	Trial        int
	Tokens       int64
	Subscription enums.SubscriptionStatus
	AutoReload   *models.AutoReloadConfig
	CustomerID   string
	PaymentMeth  string
}

// Seed inserts a credit row and returns its account id.
func Seed(t testing.TB, db *gorm.DB, a Account) uuid.UUID {
	t.Helper()
	status := a.Subscription
	if status == "" {
		status = enums.SubscriptionStatusNone
	}
	now := time.Now().UTC()
	state := models.AccountCreditState{
		AccountID:           uuid.New(),
		TrialRemaining:      a.Trial,
		TokenBalance:        a.Tokens,
		LifetimePurchased:   a.Tokens,
		SubscriptionStatus:  status,
		AutoReloadThreshold: 1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if a.AutoReload != nil {
		state.AutoReloadEnabled = a.AutoReload.Enabled
		state.AutoReloadThreshold = a.AutoReload.Threshold
		state.AutoReloadTopUp = a.AutoReload.TopUpAmount
		state.AutoReloadFailures = a.AutoReload.Failures
		state.AutoReloadLastAttemptAt = a.AutoReload.LastAttemptAt
	}
	if a.CustomerID != "" {
		state.StripeCustomerID = &a.CustomerID
	}
	if a.PaymentMeth != "" {
		state.StripePaymentMethodID = &a.PaymentMeth
	}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return state.AccountID
}

// Load re-reads the credit row.
func Load(t testing.TB, db *gorm.DB, accountID uuid.UUID) models.AccountCreditState {
	t.Helper()
	var state models.AccountCreditState
	if err := db.Where("account_id = ?", accountID).Take(&state).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	return state
}

// Transactions lists every ledger row of the account, oldest first.
func Transactions(t testing.TB, db *gorm.DB, accountID uuid.UUID) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	if err := db.Where("account_id = ?", accountID).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return rows
}

// CountKind counts the account's transactions of a kind.
func CountKind(t testing.TB, db *gorm.DB, accountID uuid.UUID, kind enums.TransactionKind) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Transaction{}).Where("account_id = ? AND kind = ?", accountID, kind).Count(&n).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return n
}
