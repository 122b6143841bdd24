package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	ShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canopy_shards_total",
			Help: "Number of registered shards by datastore",
		},
		[]string{"datastore"},
	)

	ListenersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_listeners_total",
			Help: "Number of active data change listener registrations",
		},
	)

	// Transaction metrics
	TransactionsAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_transactions_allocated_total",
			Help: "Write transactions allocated by shard",
		},
		[]string{"shard"},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_commits_total",
			Help: "Completed commits by result (success, conflict, failed)",
		},
		[]string{"result"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canopy_commit_duration_seconds",
			Help:    "End-to-end three-phase commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canopy_commit_phase_duration_seconds",
			Help:    "Duration of a single commit phase across all cohorts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	CommitCohorts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canopy_commit_cohorts",
			Help:    "Number of cohorts taking part in a commit",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 16},
		},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_notifications_total",
			Help: "Data change notifications delivered to listeners",
		},
	)

	NotificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_notification_failures_total",
			Help: "Listener callbacks that panicked",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(ListenersTotal)
	prometheus.MustRegister(TransactionsAllocated)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(CommitPhaseDuration)
	prometheus.MustRegister(CommitCohorts)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
