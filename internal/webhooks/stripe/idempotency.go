package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/mealrun-backend/pkg/redis"
)

// DefaultScope namespaces gateway event ids in redis.
const DefaultScope = "stripe-event"

// EventGuard remembers delivered gateway event ids so redeliveries are acked
// without touching payment state a second time.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("event ttl must be positive")
	}
	if scope == "" {
		scope = DefaultScope
	}
	return &EventGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Seen marks eventID as delivered and reports whether it already was.
func (g *EventGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	fresh, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return !fresh, nil
}

// Forget clears the mark so a failed event is processed on redelivery.
func (g *EventGuard) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
