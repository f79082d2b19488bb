package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
)

type fakeAccounts struct {
	state *models.AccountCreditState
	err   error
	calls int
}

func (f *fakeAccounts) FindAccount(context.Context, uuid.UUID) (*models.AccountCreditState, error) {
	f.calls++
	return f.state, f.err
}

func TestDecideHierarchy(t *testing.T) {
	tests := []struct {
		name  string
		state models.AccountCreditState
		want  enums.FundingSource
		empty bool
	}{
		{
			name:  "active subscription wins over trial and tokens",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusActive, TrialRemaining: 3, TokenBalance: 10},
			want:  enums.FundingSourceSubscription,
		},
		{
			name:  "past due is a grace period",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusPastDue},
			want:  enums.FundingSourceSubscription,
		},
		{
			name:  "canceled subscription falls through to trial",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusCanceled, TrialRemaining: 1, TokenBalance: 4},
			want:  enums.FundingSourceTrial,
		},
		{
			name:  "trial before tokens",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusNone, TrialRemaining: 2, TokenBalance: 4},
			want:  enums.FundingSourceTrial,
		},
		{
			name:  "tokens when trial exhausted",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusNone, TokenBalance: 1},
			want:  enums.FundingSourceToken,
		},
		{
			name:  "nothing left",
			state: models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusNone},
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(&tt.state)
			if tt.empty {
				require.Error(t, err)
				assert.True(t, ledger.IsInsufficientFunds(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveBoundaryIsAlwaysInsufficient(t *testing.T) {
	accounts := &fakeAccounts{state: &models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusNone}}
	resolver, err := NewResolver(accounts)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := resolver.Resolve(context.Background(), uuid.New())
		assert.True(t, ledger.IsInsufficientFunds(err))
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	state := &models.AccountCreditState{SubscriptionStatus: enums.SubscriptionStatusNone, TrialRemaining: 1}
	resolver, err := NewResolver(&fakeAccounts{state: state})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := resolver.Resolve(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, enums.FundingSourceTrial, got)
	}
	assert.Equal(t, 1, state.TrialRemaining)
}

func TestResolvePropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	resolver, err := NewResolver(&fakeAccounts{err: boom})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)

	_, err = resolver.Resolve(context.Background(), uuid.Nil)
	assert.Error(t, err)
}

func TestNewResolverRequiresReader(t *testing.T) {
	_, err := NewResolver(nil)
	assert.Error(t, err)
}
