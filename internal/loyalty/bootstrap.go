package loyalty

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-ledger/pkg/config"
	"github.com/angelmondragon/loyalty-ledger/pkg/db"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox"
)

// Engine bundles the ledger components shared by the api, cron and worker
// processes.
type Engine struct {
	Policy  *TierPolicy
	Metrics *metrics.LedgerMetrics
	Service Service
	Sweeper *Sweeper
}

type EngineParams struct {
	DB     *db.Client
	Config config.LoyaltyConfig
	Logger *logger.Logger
	// Registerer receives the ledger metrics. Nil disables them.
	Registerer prometheus.Registerer
}

// LoadTierPolicy reads the YAML policy file when configured and falls back to
// the threshold map otherwise.
func LoadTierPolicy(cfg config.LoyaltyConfig) (*TierPolicy, error) {
	if path := strings.TrimSpace(cfg.TierPolicyFile); path != "" {
		return LoadTierPolicyFile(path)
	}
	if len(cfg.TierThresholds) == 0 {
		return DefaultTierPolicy(), nil
	}
	return TierPolicyFromMap(cfg.TierThresholds)
}

// NewEngine wires the repository, outbox notifier, engine and sweeper.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	policy, err := LoadTierPolicy(params.Config)
	if err != nil {
		return nil, fmt.Errorf("load tier policy: %w", err)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(params.Registerer)
	notifier, err := NewOutboxNotifier(params.DB, outbox.NewService(outbox.NewRepository(params.DB.DB()), params.Logger))
	if err != nil {
		return nil, err
	}

	repo := NewRepository(params.DB.DB())
	svc, err := NewService(ServiceParams{
		Repository: repo,
		TierPolicy: policy,
		Notifier:   notifier,
		Logger:     params.Logger,
		Metrics:    ledgerMetrics,
		TxTimeout:  params.Config.TxTimeout,
		EarnExpiry: params.Config.EarnExpiry(),
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := NewSweeper(SweeperParams{
		Repository:  repo,
		Service:     svc,
		Logger:      params.Logger,
		Metrics:     ledgerMetrics,
		Concurrency: params.Config.SweepConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Policy:  policy,
		Metrics: ledgerMetrics,
		Service: svc,
		Sweeper: sweeper,
	}, nil
}
