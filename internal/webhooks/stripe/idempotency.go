package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/creditledger-backend/pkg/redis"
)

var errEventIDRequired = errors.New("stripe event id is required")

// IdempotencyGuard is a fast-path dedupe for webhook deliveries. The ledger's
// unique external_event_id stays the authority; an event is only recorded
// here after it was applied, so a failed or abandoned delivery never hides
// Stripe's retry.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, fmt.Errorf("idempotency ttl %s is negative", ttl)
	case scope == "":
		return nil, errors.New("idempotency scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

// Seen reports whether eventID was already applied.
func (g *IdempotencyGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	val, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup stripe event %s: %w", eventID, err)
	}
	return val != "", nil
}

// MarkProcessed records eventID with its apply time. It runs detached from
// ctx cancellation since the event is already committed by then.
func (g *IdempotencyGuard) MarkProcessed(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if _, err := g.store.SetNX(context.WithoutCancel(ctx), key, g.now().UTC().Format(time.RFC3339), g.ttl); err != nil {
		return fmt.Errorf("mark stripe event %s: %w", eventID, err)
	}
	return nil
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errEventIDRequired
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
