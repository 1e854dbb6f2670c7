package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/installconnect/escrow-backend/pkg/outbox/idempotency"
	"github.com/installconnect/escrow-backend/pkg/redis"
)

// IdempotencyGuard suppresses replayed webhook deliveries for the replay TTL.
// A delivery that fails handling is un-marked so the gateway's retry lands.
type IdempotencyGuard struct {
	manager *idempotency.Manager
	scope   string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	manager, err := idempotency.NewManager(store, ttl)
	if err != nil {
		return nil, err
	}
	return &IdempotencyGuard{
		manager: manager,
		scope:   scope,
	}, nil
}

// CheckAndMark reports whether the event was already seen, marking it seen
// when it was not.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return g.manager.CheckAndMarkProcessed(ctx, g.scope, eventID)
}

func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	return g.manager.Delete(ctx, g.scope, eventID)
}
