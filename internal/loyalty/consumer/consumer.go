package consumer

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loyalty-ledger/internal/loyalty"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/idempotency"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/registry"
)

const orderPaidConsumer = "loyalty-order-paid"

type earner interface {
	EarnPoints(ctx context.Context, input loyalty.EarnInput) (*loyalty.Result, error)
}

// OrderPaidConsumer credits points for paid orders arriving on the orders
// subscription.
type OrderPaidConsumer struct {
	ledger        earner
	subscription  *pubsub.Subscriber
	idempotency   *idempotency.Manager
	decoders      *registry.DecoderRegistry
	pointsPerUnit decimal.Decimal
	logg          *logger.Logger
}

// NewOrderPaidConsumer builds the consumer. pointsPerUnit is the number of
// points granted per major currency unit and must be positive.
func NewOrderPaidConsumer(ledger earner, subscription *pubsub.Subscriber, manager *idempotency.Manager, pointsPerUnit decimal.Decimal, logg *logger.Logger) (*OrderPaidConsumer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("loyalty service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if !pointsPerUnit.IsPositive() {
		return nil, fmt.Errorf("points per currency unit must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &OrderPaidConsumer{
		ledger:        ledger,
		subscription:  subscription,
		idempotency:   manager,
		decoders:      newDecoders(),
		pointsPerUnit: pointsPerUnit,
		logg:          logg,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.OrderPaidEvent](decoders, enums.EventOrderPaid, 1)
	return decoders
}

// Run starts the consumer loop until the context is canceled.
func (c *OrderPaidConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *OrderPaidConsumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventOrderPaid) {
		c.logg.Debug(logCtx, "skipping non order_paid event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID := envelope.ID()
	decoded, err := c.decoders.Decode(enums.EventOrderPaid, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	event := decoded.(payloads.OrderPaidEvent)

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":    eventID.String(),
		"order_id":    event.OrderID.String(),
		"customer_id": event.CustomerID,
	})

	points, err := c.pointsFor(event.Amount)
	if err != nil {
		c.logg.Error(logCtx, "invalid order amount", err)
		return processResult{ack: true}
	}
	if points <= 0 {
		c.logg.Info(logCtx, "order amount earns no points")
		return processResult{ack: true}
	}

	reference := fmt.Sprintf("order:%s", event.OrderID)
	ran, err := c.idempotency.Run(ctx, orderPaidConsumer, eventID, func(ctx context.Context) error {
		_, err := c.ledger.EarnPoints(ctx, loyalty.EarnInput{
			CustomerID:  event.CustomerID,
			Points:      points,
			Description: fmt.Sprintf("Order %s", event.OrderID),
			Reference:   &reference,
		})
		return err
	})
	switch {
	case err != nil && retryable(err):
		c.logg.Error(logCtx, "earn points failed, will retry", err)
		return processResult{nack: true}
	case err != nil:
		c.logg.Error(logCtx, "earn points rejected", err)
		return processResult{ack: true}
	case !ran:
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	c.logg.Info(logCtx, "order points credited")
	return processResult{ack: true}
}

// pointsFor converts an order amount to whole points, rounding down.
func (c *OrderPaidConsumer) pointsFor(amount string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, err
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount)
	}
	return value.Mul(c.pointsPerUnit).Floor().IntPart(), nil
}

// retryable reports whether a redelivery could succeed. Errors without a code
// come from the idempotency store and are retried.
func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return typed.Retryable()
}
