package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-ledger/api/routes"
	"github.com/angelmondragon/loyalty-ledger/internal/app"
)

const shutdownTimeout = 20 * time.Second

func main() {
	rt := app.Boot("api")
	boot := context.Background()

	database := rt.Database(boot)
	redisClient := rt.Redis(boot)
	engine := rt.Ledger(boot, database)

	// PORT wins so the binary runs unchanged on Cloud Run.
	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(rt.Config, rt.Logger, database, redisClient, prometheus.DefaultGatherer, engine.Service, engine.Policy, engine.Sweeper),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.SignalContext(map[string]any{"addr": server.Addr})
	defer stop()
	rt.Logger.Info(ctx, "starting api server")

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		engine.Sweeper.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.Logger.Error(ctx, "api server shutdown failed", err)
		}
	}
	rt.Finish(ctx, runErr)
}
