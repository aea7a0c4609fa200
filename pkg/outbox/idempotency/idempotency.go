package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-ledger/pkg/redis"
)

// Manager dedupes inbound events per consumer. A claim is a SETNX on
// `<prefix>:idempotency:evt:processed:<consumer>:<event_id>` that lives for ttl.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim is held by the one delivery allowed to process an event.
type Claim struct {
	store redis.IdempotencyStore
	key   string
}

// Release gives the event back so a redelivery can process it.
func (c *Claim) Release(ctx context.Context) error {
	if err := c.store.Del(ctx, c.key); err != nil {
		return fmt.Errorf("release %s: %w", c.key, err)
	}
	return nil
}

// Claim reserves eventID for consumer. It returns nil and no error when a
// previous delivery already holds or completed the claim.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (*Claim, error) {
	switch {
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return nil, errors.New("event id is required")
	}
	key := m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String())
	won, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !won {
		return nil, nil
	}
	return &Claim{store: m.store, key: key}, nil
}

// Run executes fn at most once per consumer and event. A failed fn releases
// the claim; ran reports whether fn was invoked.
func (m *Manager) Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (ran bool, err error) {
	claim, err := m.Claim(ctx, consumer, eventID)
	if err != nil || claim == nil {
		return false, err
	}
	if err := fn(ctx); err != nil {
		if relErr := claim.Release(context.WithoutCancel(ctx)); relErr != nil {
			return true, errors.Join(err, relErr)
		}
		return true, err
	}
	return true, nil
}
