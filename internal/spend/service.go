package spend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditledger-backend/internal/authorization"
	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/metrics"
)

var errAlreadyReversed = errors.New("debit already reversed")

// ReloadTrigger is notified after a token debit commits.
type ReloadTrigger interface {
	Trigger(ctx context.Context, accountID uuid.UUID)
}

type ServiceParams struct {
	TxRunner   db.TxRunner
	Repo       ledger.Repository
	AutoReload ReloadTrigger
	Metrics    *metrics.LedgerMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service is the spend coordinator: it debits the funding source chosen under
// the account row lock and compensates failed work.
type Service struct {
	tx      db.TxRunner
	repo    ledger.Repository
	reload  ReloadTrigger
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:      params.TxRunner,
		repo:    params.Repo,
		reload:  params.AutoReload,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

// Spend authorizes and consumes one unit of work for the account. It returns
// InsufficientFunds when nothing can pay and LockContention when another
// request holds the row; the latter is safe to retry.
func (s *Service) Spend(ctx context.Context, accountID uuid.UUID) (*Receipt, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	ctx = s.logg.WithAccountID(ctx, accountID.String())

	var receipt *Receipt
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		state, err := repo.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		source, err := authorization.Decide(state)
		if err != nil {
			return err
		}

		switch source {
		case enums.FundingSourceSubscription:
			receipt = &Receipt{AccountID: accountID, FundingSource: source, IssuedAt: s.now()}
			return nil
		case enums.FundingSourceTrial:
			after, err := repo.DebitTrial(ctx, accountID)
			if err != nil {
				return err
			}
			receipt, err = s.recordDebit(ctx, repo, accountID, source, int64(after.TrialRemaining))
			return err
		case enums.FundingSourceToken:
			after, err := repo.DebitToken(ctx, accountID)
			if err != nil {
				return err
			}
			receipt, err = s.recordDebit(ctx, repo, accountID, source, after.TokenBalance)
			return err
		default:
			return fmt.Errorf("unhandled funding source %q", source)
		}
	})
	if err != nil {
		err = lockError(err)
		s.metrics.Spend("", spendResult(err))
		s.logSpendError(ctx, err)
		return nil, err
	}

	s.metrics.Spend(receipt.FundingSource.String(), "ok")
	if receipt.FundingSource == enums.FundingSourceToken && s.reload != nil {
		s.reload.Trigger(ctx, accountID)
	}
	return receipt, nil
}

func (s *Service) recordDebit(ctx context.Context, repo ledger.Repository, accountID uuid.UUID, source enums.FundingSource, balanceAfter int64) (*Receipt, error) {
	kind, err := enums.DebitKindFor(source)
	if err != nil {
		return nil, err
	}
	txn := &models.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         kind,
		Amount:       -1,
		BalanceAfter: balanceAfter,
		CreatedAt:    s.now(),
	}
	if err := repo.AppendTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("append %s transaction: %w", kind, err)
	}
	return &Receipt{
		AccountID:     accountID,
		FundingSource: source,
		TransactionID: &txn.ID,
		IssuedAt:      txn.CreatedAt,
	}, nil
}

// ReportOutcome closes out a receipt. A failure on a metered receipt refunds
// the unit exactly once, keyed by the debit transaction; the current balance is
// not consulted because the refund is owed regardless.
func (s *Service) ReportOutcome(ctx context.Context, receipt Receipt, outcome enums.WorkOutcome) (*OutcomeResult, error) {
	if !outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome must be success or failure")
	}
	if err := receipt.validate(); err != nil {
		return nil, err
	}
	if outcome == enums.WorkOutcomeSuccess || !receipt.FundingSource.Metered() {
		s.metrics.Refund(receipt.FundingSource.String(), "noop")
		return &OutcomeResult{}, nil
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":     receipt.AccountID.String(),
		"transaction_id": receipt.TransactionID.String(),
		"funding_source": receipt.FundingSource.String(),
	})

	result := &OutcomeResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		return s.refund(ctx, repo, receipt, result)
	})
	switch {
	case errors.Is(err, errAlreadyReversed):
		s.metrics.Refund(receipt.FundingSource.String(), "already_reversed")
		s.logg.Debug(ctx, "outcome already reported; refund skipped")
		return result, nil
	case err != nil:
		s.metrics.Refund(receipt.FundingSource.String(), "error")
		s.logg.Error(ctx, "refund failed", err)
		return nil, err
	}
	s.metrics.Refund(receipt.FundingSource.String(), "refunded")
	s.logg.Info(ctx, "work failed; unit refunded")
	return result, nil
}

func (s *Service) refund(ctx context.Context, repo ledger.Repository, receipt Receipt, result *OutcomeResult) error {
	debitKind, err := enums.DebitKindFor(receipt.FundingSource)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "receipt is not refundable")
	}
	debit, err := repo.FindTransaction(ctx, receipt.AccountID, *receipt.TransactionID)
	if err != nil {
		return err
	}
	if debit.Kind != debitKind {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction is %s, not %s", debit.Kind, debitKind))
	}

	existing, err := repo.FindReversal(ctx, debit.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		result.RefundTransactionID = &existing.ID
		return errAlreadyReversed
	}

	var (
		refundKind   enums.TransactionKind
		balanceAfter int64
	)
	switch receipt.FundingSource {
	case enums.FundingSourceTrial:
		after, err := repo.RefundTrial(ctx, receipt.AccountID)
		if err != nil {
			return err
		}
		refundKind, balanceAfter = enums.TransactionTrialRefund, int64(after.TrialRemaining)
	case enums.FundingSourceToken:
		after, err := repo.RefundToken(ctx, receipt.AccountID)
		if err != nil {
			return err
		}
		refundKind, balanceAfter = enums.TransactionTokenRefund, after.TokenBalance
	default:
		return fmt.Errorf("unhandled funding source %q", receipt.FundingSource)
	}

	refund := &models.Transaction{
		ID:                    uuid.New(),
		AccountID:             receipt.AccountID,
		Kind:                  refundKind,
		Amount:                1,
		BalanceAfter:          balanceAfter,
		ReversesTransactionID: &debit.ID,
		CreatedAt:             s.now(),
	}
	if err := repo.AppendTransaction(ctx, refund); err != nil {
		if db.IsUniqueViolation(err, ledger.ReversalConstraint...) {
			// a concurrent report won the race; rolling back undoes our balance change
			return errAlreadyReversed
		}
		return fmt.Errorf("append %s transaction: %w", refundKind, err)
	}
	result.Refunded = true
	result.RefundTransactionID = &refund.ID
	return nil
}

func (s *Service) logSpendError(ctx context.Context, err error) {
	switch {
	case ledger.IsInsufficientFunds(err):
		s.logg.Info(ctx, "spend declined: insufficient funds")
	case ledger.IsLockContention(err):
		s.logg.Warn(ctx, "spend rejected: account row busy")
	case pkgerrors.HasCode(err, pkgerrors.CodeConstraintViolation):
		s.logg.Error(ctx, "balance constraint reached on spend path", err)
	default:
		s.logg.Error(ctx, "spend failed", err)
	}
}

// lockError reports a lock or serialization failure raised anywhere in the
// spend transaction, commit included, as LockContention.
func lockError(err error) error {
	if pkgerrors.As(err) == nil && db.IsLockNotAvailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeLockContention, err, "credit account is locked by another request")
	}
	return err
}

func spendResult(err error) string {
	switch {
	case ledger.IsInsufficientFunds(err):
		return "insufficient_funds"
	case ledger.IsLockContention(err):
		return "lock_contention"
	case ledger.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
