package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Repository owns the subscription columns of account_credit_state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpdateStatus(ctx context.Context, accountID uuid.UUID, status enums.SubscriptionStatus, periodEnd *time.Time, now time.Time) error
	ListGraceExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.AccountCreditState, error)
	Expire(ctx context.Context, accountID uuid.UUID, cutoff, now time.Time) (bool, error)
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

func (r *repository) UpdateStatus(ctx context.Context, accountID uuid.UUID, status enums.SubscriptionStatus, periodEnd *time.Time, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"subscription_status":     status,
			"subscription_period_end": periodEnd,
			"updated_at":              now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	return nil
}

// ListGraceExpired returns past-due accounts whose period ended before cutoff.
func (r *repository) ListGraceExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.AccountCreditState, error) {
	var rows []models.AccountCreditState
	err := r.db.WithContext(ctx).
		Where("subscription_status = ?", enums.SubscriptionStatusPastDue).
		Where("subscription_period_end IS NOT NULL AND subscription_period_end < ?", cutoff).
		Order("subscription_period_end ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Expire cancels the subscription if it is still past due beyond cutoff. A
// webhook that reactivated it in the meantime wins.
func (r *repository) Expire(ctx context.Context, accountID uuid.UUID, cutoff, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Where("subscription_status = ?", enums.SubscriptionStatusPastDue).
		Where("subscription_period_end < ?", cutoff).
		Updates(map[string]any{
			"subscription_status": enums.SubscriptionStatusCanceled,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
