package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	"github.com/angelmondragon/creditledger-backend/pkg/pagination"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
)

// Unique indexes on transactions. Postgres reports the index name, sqlite the column.
var (
	ExternalEventConstraint = []string{"ux_transactions_external_event_id", "transactions.external_event_id"}
	ReversalConstraint      = []string{"ux_transactions_reverses_transaction_id", "transactions.reverses_transaction_id"}
)

// Repository is the ledger store: the credit row, its guarded balance
// mutations (guard.go) and the append-only transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAccount(ctx context.Context, state *models.AccountCreditState) (bool, error)
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	LockAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	FindAccountByStripeCustomer(ctx context.Context, customerID string) (*models.AccountCreditState, error)

	AppendTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*models.Transaction, error)
	FindByExternalEventID(ctx context.Context, externalEventID string) (*models.Transaction, error)
	FindReversal(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, before *pagination.Cursor, limit int) ([]models.Transaction, error)

	DebitTrial(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	DebitToken(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	RefundTrial(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	RefundToken(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error)
	CreditTokens(ctx context.Context, accountID uuid.UUID, amount int64) (*models.AccountCreditState, error)

	ResetAutoReloadFailures(ctx context.Context, accountID uuid.UUID) error
	AttachStripeCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error
	TokenDrift(ctx context.Context, limit int) ([]Drift, error)
}

// Drift is an account whose token_balance disagrees with its token transactions.
type Drift struct {
	AccountID    uuid.UUID `gorm:"column:account_id"`
	TokenBalance int64     `gorm:"column:token_balance"`
	LedgerTotal  int64     `gorm:"column:ledger_total"`
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) CreateAccount(ctx context.Context, state *models.AccountCreditState) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(state)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	var state models.AccountCreditState
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&state).Error
	if err != nil {
		return nil, mapLookupError(err)
	}
	return &state, nil
}

// LockAccount takes the row lock without waiting. A held lock surfaces as
// LockContention so callers fail fast instead of queueing.
func (r *repository) LockAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountCreditState, error) {
	var state models.AccountCreditState
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("account_id = ?", accountID).
		Take(&state).Error
	if err != nil {
		if db.IsLockNotAvailable(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeLockContention, err, "credit account is locked by another request")
		}
		return nil, mapLookupError(err)
	}
	return &state, nil
}

func (r *repository) FindAccountByStripeCustomer(ctx context.Context, customerID string) (*models.AccountCreditState, error) {
	var state models.AccountCreditState
	err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).Take(&state).Error
	if err != nil {
		return nil, mapLookupError(err)
	}
	return &state, nil
}

func (r *repository) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = r.now()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", transactionID, accountID).
		Take(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}
	return &txn, nil
}

// FindByExternalEventID returns nil, nil when no transaction carries the id.
func (r *repository) FindByExternalEventID(ctx context.Context, externalEventID string) (*models.Transaction, error) {
	return r.findOne(ctx, "external_event_id = ?", externalEventID)
}

// FindReversal returns the refund reversing transactionID, or nil, nil.
func (r *repository) FindReversal(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	return r.findOne(ctx, "reverses_transaction_id = ?", transactionID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where(query, arg).Take(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, before *pagination.Cursor, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	q := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC")
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ResetAutoReloadFailures(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"auto_reload_failures": 0,
			"updated_at":           r.now(),
		}).Error
}

// AttachStripeCustomer records the gateway customer once; an existing value is kept.
func (r *repository) AttachStripeCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.AccountCreditState{}).
		Where("account_id = ? AND stripe_customer_id IS NULL", accountID).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         r.now(),
		}).Error
}

func (r *repository) TokenDrift(ctx context.Context, limit int) ([]Drift, error) {
	kinds := []enums.TransactionKind{
		enums.TransactionTokenDebit,
		enums.TransactionTokenRefund,
		enums.TransactionTokenCreditPurchase,
		enums.TransactionTokenCreditAutoReload,
	}
	var rows []Drift
	err := r.db.WithContext(ctx).Raw(`
SELECT s.account_id, s.token_balance, COALESCE(SUM(t.amount), 0) AS ledger_total
FROM account_credit_state s
LEFT JOIN transactions t ON t.account_id = s.account_id AND t.kind IN ?
GROUP BY s.account_id, s.token_balance
HAVING s.token_balance <> COALESCE(SUM(t.amount), 0)
ORDER BY s.account_id
LIMIT ?`, kinds, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errAccountNotFound()
	}
	return err
}
