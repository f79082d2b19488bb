package autoreload

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Repository owns the auto-reload columns of account_credit_state. It never
// touches balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Load(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	Claim(ctx context.Context, accountID uuid.UUID, failures int, cutoff, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, accountID uuid.UUID, maxFailures int, now time.Time) (*models.AccountCreditState, error)
	Configure(ctx context.Context, accountID uuid.UUID, cfg Config, now time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Load(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	var state models.AccountCreditState
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Claim stamps the attempt time when the account still qualifies. The WHERE
// clause repeats every precondition, so of several concurrent callers that
// read the same failure count exactly one matches the row.
func (r *repository) Claim(ctx context.Context, accountID uuid.UUID, failures int, cutoff, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Where("auto_reload_enabled = ?", true).
		Where("token_balance < auto_reload_threshold").
		Where("auto_reload_failures = ?", failures).
		Where("(auto_reload_last_attempt_at IS NULL OR auto_reload_last_attempt_at <= ?)", cutoff).
		Updates(map[string]any{
			"auto_reload_last_attempt_at": now,
			"updated_at":                  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordFailure bumps the failure counter and switches auto-reload off once it
// reaches maxFailures.
func (r *repository) RecordFailure(ctx context.Context, accountID uuid.UUID, maxFailures int, now time.Time) (*models.AccountCreditState, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"auto_reload_failures": gorm.Expr("auto_reload_failures + 1"),
			"auto_reload_enabled":  gorm.Expr("CASE WHEN auto_reload_failures + 1 >= ? THEN ? ELSE auto_reload_enabled END", maxFailures, false),
			"updated_at":           now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	return r.Load(ctx, accountID)
}

func (r *repository) Configure(ctx context.Context, accountID uuid.UUID, cfg Config, now time.Time) error {
	updates := map[string]any{
		"auto_reload_enabled":   cfg.Enabled,
		"auto_reload_threshold": cfg.Threshold,
		"auto_reload_top_up":    cfg.TopUpAmount,
		"updated_at":            now,
	}
	if cfg.Enabled {
		updates["auto_reload_failures"] = 0
	}
	if cfg.PaymentMethodID != "" {
		updates["stripe_payment_method_id"] = cfg.PaymentMethodID
	}
	res := r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	return nil
}
