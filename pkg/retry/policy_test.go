package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditledger-backend/pkg/config"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("declined")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errTransient) })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayCurve(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Minute, MaxInterval: 10 * time.Minute, Multiplier: 2}
	assert.Zero(t, p.Delay(0))
	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 10*time.Minute, p.Delay(8))
}

func TestFromConfigNormalizes(t *testing.T) {
	p := FromConfig(config.RetryConfig{})
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, Default().InitialInterval, p.InitialInterval)
	assert.Equal(t, Default().Multiplier, p.Multiplier)
}

func TestSingleAttemptPolicyNeverRetries(t *testing.T) {
	calls := 0
	err := fastPolicy(1).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
