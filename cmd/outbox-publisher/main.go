package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-ledger/internal/app"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/registry"
)

func main() {
	rt := app.Boot("outbox-publisher")
	boot := context.Background()

	database := rt.Database(boot)
	pubsubClient := rt.PubSub(boot)

	eventRegistry, err := registry.NewEventRegistry(rt.Config.PubSub)
	rt.Must(boot, "build event registry", err)

	service, err := NewService(ServiceParams{
		Config:        rt.Config,
		Logger:        rt.Logger,
		DB:            database,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(database.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(database.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	rt.Must(boot, "create outbox publisher", err)

	ctx, stop := rt.SignalContext(map[string]any{"topic": rt.Config.PubSub.LoyaltyTopic})
	defer stop()
	rt.ServeMetrics(ctx)

	rt.Logger.Info(ctx, "starting outbox publisher")
	rt.Finish(ctx, service.Run(ctx))
}
