package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/loyalty-ledger/api/controllers"
	"github.com/angelmondragon/loyalty-ledger/api/middleware"
	"github.com/angelmondragon/loyalty-ledger/internal/loyalty"
	"github.com/angelmondragon/loyalty-ledger/pkg/config"
	"github.com/angelmondragon/loyalty-ledger/pkg/db"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
	pkgredis "github.com/angelmondragon/loyalty-ledger/pkg/redis"
)

type redisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	gatherer prometheus.Gatherer,
	ledger loyalty.Service,
	policy *loyalty.TierPolicy,
	sweeper controllers.ExpirySweeper,
) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, metrics.NewHTTPMetrics(registererFor(gatherer))),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := []controllers.Dependency{{Name: "database", Pinger: dbP}}
	if redisClient != nil {
		deps = append(deps, controllers.Dependency{Name: "redis", Pinger: redisClient})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	idempotent := middleware.Idempotency(redisClient, cfg.App.IdempotencyTTL, logg)

	r.Route("/api/v1/loyalty", func(r chi.Router) {
		r.Route("/customers/{customerId}", func(r chi.Router) {
			r.Get("/account", controllers.LoyaltyGetAccount(ledger, policy, logg))
			r.Post("/account", controllers.LoyaltyOpenAccount(ledger, policy, logg))
			r.With(idempotent).Post("/earn", controllers.LoyaltyEarn(ledger, policy, logg))
			r.With(idempotent).Post("/redeem", controllers.LoyaltyRedeem(ledger, policy, logg))
			r.With(idempotent).Post("/adjust", controllers.LoyaltyAdjust(ledger, policy, logg))
			r.Get("/transactions", controllers.LoyaltyTransactions(ledger, logg))
		})
		r.Post("/admin/expiry-sweep", controllers.LoyaltyExpirySweep(sweeper, logg))
	})

	return r
}

// registererFor registers HTTP metrics on the same registry /metrics serves.
func registererFor(gatherer prometheus.Gatherer) prometheus.Registerer {
	if reg, ok := gatherer.(prometheus.Registerer); ok {
		return reg
	}
	return nil
}
