package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loyalty"

// LedgerMetrics instruments points ledger mutations, notifications and sweeps.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	points         *prometheus.CounterVec
	tierChanges    *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	sweepAccounts  *prometheus.CounterVec
	sweepPoints    prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Ledger operations by name and result code.",
	}, []string{"operation", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of ledger operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	points := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_total",
		Help:      "Absolute points moved by committed transactions, by type.",
	}, []string{"type"})
	tierChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tier_changes_total",
		Help:      "Tier upgrades by destination tier.",
	}, []string{"tier"})
	notifyFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Post-commit notifications that could not be queued.",
	}, []string{"event"})
	sweepAccounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expiry_sweep_accounts_total",
		Help:      "Accounts visited by the expiry sweep, by outcome.",
	}, []string{"outcome"})
	sweepPoints := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expiry_sweep_points_expired_total",
		Help:      "Points removed by the expiry sweep.",
	})
	reg.MustRegister(operations, duration, points, tierChanges, notifyFailures, sweepAccounts, sweepPoints)
	return &LedgerMetrics{
		operations:     operations,
		duration:       duration,
		points:         points,
		tierChanges:    tierChanges,
		notifyFailures: notifyFailures,
		sweepAccounts:  sweepAccounts,
		sweepPoints:    sweepPoints,
	}
}

// ObserveOperation records the outcome and latency of a ledger operation.
func (m *LedgerMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// AddPoints records the absolute points moved by a committed transaction.
func (m *LedgerMetrics) AddPoints(txType string, points int64) {
	if m == nil || m.points == nil {
		return
	}
	if points < 0 {
		points = -points
	}
	m.points.WithLabelValues(normalizeLabel(txType)).Add(float64(points))
}

func (m *LedgerMetrics) IncTierChange(tier string) {
	if m == nil || m.tierChanges == nil {
		return
	}
	m.tierChanges.WithLabelValues(normalizeLabel(tier)).Inc()
}

func (m *LedgerMetrics) IncNotificationFailure(event string) {
	if m == nil || m.notifyFailures == nil {
		return
	}
	m.notifyFailures.WithLabelValues(normalizeLabel(event)).Inc()
}

// IncSweepAccount counts one account visited by the sweep; outcome is one of
// expired, claimed or error.
func (m *LedgerMetrics) IncSweepAccount(outcome string) {
	if m == nil || m.sweepAccounts == nil {
		return
	}
	m.sweepAccounts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) AddSweepPointsExpired(points int64) {
	if m == nil || m.sweepPoints == nil || points <= 0 {
		return
	}
	m.sweepPoints.Add(float64(points))
}
