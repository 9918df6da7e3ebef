// Package metrics содержит счётчики Prometheus движка начислений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PayoutRunsTotal: итог каждого запуска ежедневной выплаты по аккаунту.
	// outcome: posted, zero, not_due, already_posted, error
	PayoutRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_payout_runs_total",
			Help: "Total number of daily payout attempts by outcome",
		},
		[]string{"outcome"},
	)

	PayoutSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invest_engine_payout_sweep_duration_seconds",
			Help:    "Duration of one scheduled payout sweep over due accounts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
	)

	ActivationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_activation_transitions_total",
			Help: "Total number of activation state transitions",
		},
		[]string{"to"},
	)

	TeamWalkDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invest_engine_team_walk_depth",
			Help:    "Number of non-empty levels returned by the team walk",
			Buckets: prometheus.LinearBuckets(0, 3, 11), // 0..30
		},
	)

	TeamWalkSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invest_engine_team_walk_skipped_total",
			Help: "Referral edges skipped because the account no longer exists",
		},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_store_retries_total",
			Help: "Total number of retried store operations",
		},
		[]string{"op"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_notifications_total",
			Help: "Total number of notifications by sink and status",
		},
		[]string{"sink", "status"},
	)

	SettingsReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_settings_reloads_total",
			Help: "Total number of admin settings reloads",
		},
		[]string{"status"},
	)

	DashboardCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invest_engine_dashboard_cache_total",
			Help: "Dashboard figures cache lookups by result",
		},
		[]string{"result"},
	)
)
