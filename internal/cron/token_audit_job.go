package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

const defaultAuditLimit = 100

type driftFinder interface {
	TokenDrift(ctx context.Context, limit int) ([]ledger.Drift, error)
}

// NewTokenAuditJob compares every token balance with the sum of its token
// transactions. Any mismatch fails the job so it shows on the failure metric.
func NewTokenAuditJob(logg *logger.Logger, repo driftFinder, limit int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	return &tokenAuditJob{logg: logg, repo: repo, limit: limit}, nil
}

type tokenAuditJob struct {
	logg  *logger.Logger
	repo  driftFinder
	limit int
}

func (j *tokenAuditJob) Name() string { return "token-balance-audit" }

func (j *tokenAuditJob) Run(ctx context.Context) error {
	drifts, err := j.repo.TokenDrift(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("token audit: %w", err)
	}
	var errs error
	for _, d := range drifts {
		err := fmt.Errorf("account %s: token_balance %d != ledger %d", d.AccountID, d.TokenBalance, d.LedgerTotal)
		j.logg.Error(j.logg.WithAccountID(ctx, d.AccountID.String()), "token balance drift", err)
		errs = multierr.Append(errs, err)
	}
	return errs
}
