package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics exposes the default registry on the configured address until
// ctx is done. The api binary serves /metrics on its router instead.
func (rt *Runtime) ServeMetrics(ctx context.Context) {
	addr := rt.Config.App.MetricsAddr
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error(rt.Logger.WithField(ctx, "addr", addr), "metrics server stopped", err)
		}
	}()
	rt.onClose("metrics", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
