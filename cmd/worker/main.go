package main

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loyalty-ledger/internal/app"
	"github.com/angelmondragon/loyalty-ledger/internal/loyalty/consumer"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/idempotency"
)

func main() {
	rt := app.Boot("worker")
	boot := context.Background()

	pointsPerUnit, err := decimal.NewFromString(rt.Config.Loyalty.PointsPerUnit)
	rt.Must(boot, "parse points per currency unit", err)

	database := rt.Database(boot)
	redisClient := rt.Redis(boot)
	pubsubClient := rt.PubSub(boot)
	engine := rt.Ledger(boot, database)

	dedupe, err := idempotency.NewManager(redisClient, rt.Config.Eventing.IdempotencyTTL)
	rt.Must(boot, "create idempotency manager", err)

	orderPaid, err := consumer.NewOrderPaidConsumer(engine.Service, pubsubClient.OrdersSubscription(), dedupe, pointsPerUnit, rt.Logger)
	rt.Must(boot, "create order paid consumer", err)

	service, err := NewService(ServiceParams{
		Logger:    rt.Logger,
		DB:        database,
		Redis:     redisClient,
		PubSub:    pubsubClient,
		Consumers: map[string]runner{"order_paid": orderPaid},
	})
	rt.Must(boot, "create worker service", err)

	ctx, stop := rt.SignalContext(map[string]any{"subscription": rt.Config.PubSub.OrdersSubscription})
	defer stop()
	rt.ServeMetrics(ctx)

	rt.Logger.Info(ctx, "starting worker")
	rt.Finish(ctx, service.Run(ctx))
}
