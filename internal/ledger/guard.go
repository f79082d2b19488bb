package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Balance guard: the only code allowed to move trial or token balances. Every
// decrement is a conditional UPDATE, so the database refuses to go negative
// even when the caller skipped the row lock; the CHECK constraints back it up.

// DebitTrial consumes one trial credit. Zero affected rows is InsufficientFunds.
func (r *repository) DebitTrial(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	res := r.creditRow(ctx, accountID).
		Where("trial_remaining >= ?", 1).
		Updates(map[string]any{
			"trial_remaining": gorm.Expr("trial_remaining - ?", 1),
			"trial_used":      gorm.Expr("trial_used + ?", 1),
			"updated_at":      r.now(),
		})
	return r.afterGuard(ctx, accountID, res, ErrInsufficientFunds)
}

// DebitToken consumes one purchased token. Zero affected rows is InsufficientFunds.
func (r *repository) DebitToken(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	res := r.creditRow(ctx, accountID).
		Where("token_balance >= ?", 1).
		Updates(map[string]any{
			"token_balance":     gorm.Expr("token_balance - ?", 1),
			"lifetime_consumed": gorm.Expr("lifetime_consumed + ?", 1),
			"updated_at":        r.now(),
		})
	return r.afterGuard(ctx, accountID, res, ErrInsufficientFunds)
}

// RefundTrial returns one trial credit. trial_used is clamped at zero.
func (r *repository) RefundTrial(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	res := r.creditRow(ctx, accountID).
		Updates(map[string]any{
			"trial_remaining": gorm.Expr("trial_remaining + ?", 1),
			"trial_used":      gorm.Expr("CASE WHEN trial_used > 0 THEN trial_used - 1 ELSE 0 END"),
			"updated_at":      r.now(),
		})
	return r.afterGuard(ctx, accountID, res, errAccountNotFound)
}

// RefundToken returns one token. lifetime_consumed is clamped at zero.
func (r *repository) RefundToken(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	res := r.creditRow(ctx, accountID).
		Updates(map[string]any{
			"token_balance":     gorm.Expr("token_balance + ?", 1),
			"lifetime_consumed": gorm.Expr("CASE WHEN lifetime_consumed > 0 THEN lifetime_consumed - 1 ELSE 0 END"),
			"updated_at":        r.now(),
		})
	return r.afterGuard(ctx, accountID, res, errAccountNotFound)
}

// CreditTokens adds a settled purchase to the balance.
func (r *repository) CreditTokens(ctx context.Context, accountID uuid.UUID, amount int64) (*models.AccountCreditState, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	res := r.creditRow(ctx, accountID).
		Updates(map[string]any{
			"token_balance":      gorm.Expr("token_balance + ?", amount),
			"lifetime_purchased": gorm.Expr("lifetime_purchased + ?", amount),
			"updated_at":         r.now(),
		})
	return r.afterGuard(ctx, accountID, res, errAccountNotFound)
}

func (r *repository) creditRow(ctx context.Context, accountID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID)
}

// afterGuard turns the UPDATE result into the post-mutation row. refused builds
// the error returned when the guard matched no row.
func (r *repository) afterGuard(ctx context.Context, accountID uuid.UUID, res *gorm.DB, refused func() error) (*models.AccountCreditState, error) {
	if res.Error != nil {
		if db.IsCheckViolation(res.Error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConstraintViolation, res.Error, "balance constraint rejected update")
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, refused()
	}
	return r.FindAccount(ctx, accountID)
}
