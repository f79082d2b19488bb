package retry

import (
	"context"
	"math"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/angelmondragon/creditledger-backend/pkg/config"
)

// Policy is the single retry/backoff definition shared by callers that retry
// gateway calls or contended spends.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Default mirrors the configuration defaults.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

func FromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	def := Default()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Do runs op until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx is done. A nil retryable retries every error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) error {
	p = p.normalized()
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts == 1 {
		// WithMaxRetries treats zero as unlimited
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Delay is the cool-down owed after n consecutive failures, following the
// same exponential curve without jitter. Zero failures means no delay.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	p = p.normalized()
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(failures-1))
	if d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}
