// Package app holds the process bootstrap shared by every binary: env and
// config loading, the service logger, infrastructure clients and ordered
// shutdown.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-ledger/internal/loyalty"
	"github.com/angelmondragon/loyalty-ledger/pkg/config"
	"github.com/angelmondragon/loyalty-ledger/pkg/db"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/migrate"
	"github.com/angelmondragon/loyalty-ledger/pkg/pubsub"
	"github.com/angelmondragon/loyalty-ledger/pkg/redis"
)

type closer struct {
	name  string
	close func() error
}

// Runtime is one process's configuration, logger and open clients.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// Boot loads .env and config and builds the logger for kind. Failures are
// fatal because nothing can run without config.
func Boot(kind string) *Runtime {
	rt := &Runtime{Kind: kind, Logger: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		rt.Logger.Debug(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	rt.Must(ctx, "load config", err)
	cfg.Service.Kind = kind
	rt.Config = cfg

	rt.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return rt
}

// Must logs err and exits after closing whatever is already open.
func (rt *Runtime) Must(ctx context.Context, step string, err error) {
	if err == nil {
		return
	}
	rt.Logger.Error(ctx, step+" failed", err)
	rt.Close()
	rt.exit(1)
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, close: fn})
}

// Close shuts clients down in reverse order of opening. It is safe to call
// more than once.
func (rt *Runtime) Close() {
	ctx := context.Background()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.close(); err != nil {
			rt.Logger.Error(rt.Logger.WithField(ctx, "client", c.name), "close failed", err)
		}
	}
	rt.closers = nil
}

// Database opens Postgres and applies embedded migrations in dev.
func (rt *Runtime) Database(ctx context.Context) *db.Client {
	client, err := db.New(ctx, rt.Config.DB, rt.Logger)
	rt.Must(ctx, "connect database", err)
	rt.onClose("database", client.Close)
	rt.Must(ctx, "dev migrations", migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, client))
	return client
}

func (rt *Runtime) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	rt.Must(ctx, "connect redis", err)
	rt.onClose("redis", client.Close)
	return client
}

func (rt *Runtime) PubSub(ctx context.Context) *pubsub.Client {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	rt.Must(ctx, "connect pubsub", err)
	rt.onClose("pubsub", client.Close)
	return client
}

// Ledger wires the loyalty engine with metrics on the default registry.
func (rt *Runtime) Ledger(ctx context.Context, database *db.Client) *loyalty.Engine {
	engine, err := loyalty.NewEngine(loyalty.EngineParams{
		DB:         database,
		Config:     rt.Config.Loyalty,
		Logger:     rt.Logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	rt.Must(ctx, "build loyalty engine", err)
	return engine
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// log fields.
func (rt *Runtime) SignalContext(fields map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	base := map[string]any{"env": rt.Config.App.Env, "serviceKind": rt.Kind}
	for k, v := range fields {
		base[k] = v
	}
	return rt.Logger.WithFields(ctx, base), stop
}

// Finish logs the outcome of a blocking Run and exits non-zero on failure.
// Cancellation is a clean stop.
func (rt *Runtime) Finish(ctx context.Context, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(ctx, rt.Kind+" run", err)
		return
	}
	rt.Logger.Info(ctx, rt.Kind+" stopped")
	rt.Close()
}
