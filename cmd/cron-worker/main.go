package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-ledger/internal/app"
	"github.com/angelmondragon/loyalty-ledger/internal/cron"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox"
)

func main() {
	rt := app.Boot("cron-worker")
	boot := context.Background()

	database := rt.Database(boot)
	redisClient := rt.Redis(boot)
	engine := rt.Ledger(boot, database)

	expiryJob, err := cron.NewLoyaltyExpiryJob(cron.LoyaltyExpiryJobParams{
		Logger:  rt.Logger,
		Sweeper: engine.Sweeper,
	})
	rt.Must(boot, "create expiry job", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     rt.Logger,
		DB:         database,
		Repository: outbox.NewRepository(database.DB()),
		DLQ:        outbox.NewDLQRepository(database.DB()),
		Retention:  rt.Config.Outbox.Retention,
	})
	rt.Must(boot, "create outbox retention job", err)

	jobs, err := cron.NewRegistry(expiryJob, retentionJob)
	rt.Must(boot, "register cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), rt.Config.Cron.LockTTL)
	rt.Must(boot, "create cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: rt.Config.Cron.Interval,
	})
	rt.Must(boot, "create cron service", err)

	ctx, stop := rt.SignalContext(map[string]any{"jobs": jobs.Names()})
	defer stop()
	rt.ServeMetrics(ctx)

	rt.Logger.Info(ctx, "starting cron worker")
	rt.Finish(ctx, service.Run(ctx))
}
