package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loyalty-ledger/pkg/config"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
)

func newTestRuntime(buf *bytes.Buffer) (*Runtime, *int) {
	code := -1
	rt := &Runtime{
		Kind:   "worker",
		Config: &config.Config{App: config.AppConfig{Env: "test"}},
		Logger: logger.New(logger.Options{ServiceName: "worker", Output: buf, Format: "json"}),
		exit:   func(c int) { code = c },
	}
	return rt, &code
}

func TestCloseRunsInReverseOrderOnce(t *testing.T) {
	rt, _ := newTestRuntime(&bytes.Buffer{})
	var order []string
	rt.onClose("database", func() error { order = append(order, "database"); return nil })
	rt.onClose("redis", func() error { order = append(order, "redis"); return nil })
	rt.onClose("pubsub", func() error { order = append(order, "pubsub"); return nil })

	rt.Close()
	rt.Close()
	require.Equal(t, []string{"pubsub", "redis", "database"}, order)
}

func TestMustClosesAndExits(t *testing.T) {
	var buf bytes.Buffer
	rt, code := newTestRuntime(&buf)
	closed := false
	rt.onClose("database", func() error { closed = true; return nil })

	rt.Must(context.Background(), "connect redis", nil)
	require.Equal(t, -1, *code)

	rt.Must(context.Background(), "connect redis", errors.New("refused"))
	require.Equal(t, 1, *code)
	require.True(t, closed)
	require.Contains(t, buf.String(), "connect redis failed")
}

func TestFinishTreatsCancellationAsCleanStop(t *testing.T) {
	rt, code := newTestRuntime(&bytes.Buffer{})
	rt.Finish(context.Background(), context.Canceled)
	require.Equal(t, -1, *code)

	rt.Finish(context.Background(), errors.New("subscription deleted"))
	require.Equal(t, 1, *code)
}

func TestSignalContextCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	rt, _ := newTestRuntime(&buf)
	ctx, stop := rt.SignalContext(map[string]any{"topic": "loyalty-events"})
	defer stop()

	rt.Logger.Info(ctx, "hello")
	require.Contains(t, buf.String(), `"topic":"loyalty-events"`)
	require.Contains(t, buf.String(), `"serviceKind":"worker"`)
	require.Contains(t, buf.String(), `"env":"test"`)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "loyalty_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "loyalty_test_total 1")

	rec = httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
