package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/redis"
)

// Guard remembers which outbox events were already delivered to a channel so a
// publisher crash between broker send and the database update does not
// deliver the event twice. Keys follow
// `evpool:idempotency:evt:delivered:<channel>:<event_id>`.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim reserves the delivery of eventID on channel. It returns false when a
// previous run already delivered it.
func (g *Guard) Claim(ctx context.Context, channel string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(channel, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, "1", g.ttl)
}

// Release drops a claim after a failed delivery so the next attempt can retry.
func (g *Guard) Release(ctx context.Context, channel string, eventID uuid.UUID) error {
	key, err := g.key(channel, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(channel string, eventID uuid.UUID) (string, error) {
	if channel == "" {
		return "", errors.New("channel is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(fmt.Sprintf("evt:delivered:%s", channel), eventID.String()), nil
}
