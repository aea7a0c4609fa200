package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox"
)

// EventSource is stamped on every outbox envelope produced by the ledger.
const EventSource = "loyalty-ledger"

// Notification describes a committed ledger change.
type Notification struct {
	EventType  enums.OutboxEventType
	AccountID  uuid.UUID
	OccurredAt time.Time
	Payload    any
}

// Notifier receives notifications after the ledger unit has committed.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxNotifier queues notifications as outbox rows in their own
// transaction; cmd/outbox-publisher ships them to Pub/Sub.
type OutboxNotifier struct {
	db     txRunner
	outbox outboxEmitter
}

func NewOutboxNotifier(db txRunner, emitter outboxEmitter) (*OutboxNotifier, error) {
	if db == nil {
		return nil, fmt.Errorf("db client required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &OutboxNotifier{db: db, outbox: emitter}, nil
}

func (n *OutboxNotifier) Notify(ctx context.Context, note Notification) error {
	return n.db.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     note.EventType,
			AggregateType: enums.AggregateLoyaltyAccount,
			AggregateID:   note.AccountID,
			Source:        EventSource,
			Data:          note.Payload,
			OccurredAt:    note.OccurredAt,
		})
	})
}
