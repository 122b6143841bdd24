/*
Package metrics provides Prometheus metrics and component health reporting
for canopy.

All metrics are package-level variables registered with the default
Prometheus registry at init and exposed through Handler on /metrics.

# Metrics Catalog

Topology:

canopy_shards_total{datastore}:
  - Type: Gauge
  - Description: Registered shards per datastore kind, root shards included
  - Example: canopy_shards_total{datastore="config"} 3

canopy_listeners_total:
  - Type: Gauge
  - Description: Active data change listener registrations across all shards

Transactions:

canopy_transactions_allocated_total{shard}:
  - Type: Counter
  - Description: Write transactions allocated per shard, including the
    foreign transactions a parent shard opens in its children

canopy_commits_total{result}:
  - Type: Counter
  - Labels: result = success | conflict | failed
  - Description: Finished three-phase commits. A conflict is an optimistic
    lock failure that the client may retry.

canopy_commit_duration_seconds:
  - Type: Histogram
  - Description: Time from the first canCommit to the last commit

canopy_commit_phase_duration_seconds{phase}:
  - Type: Histogram
  - Labels: phase = canCommit | preCommit | commit | abort
  - Description: Duration of one phase barrier across all cohorts

canopy_commit_cohorts:
  - Type: Histogram
  - Description: Cohorts per commit, i.e. shards touched by a transaction

Notifications:

canopy_notifications_total:
  - Type: Counter
  - Description: Batched listener callbacks delivered

canopy_notification_failures_total:
  - Type: Counter
  - Description: Listener callbacks that panicked

# Health

Components report their state with UpdateComponent. GetHealth is
unhealthy when a critical component (datastore and publisher by default)
is down and degraded when only other components are. GetReadiness waits
for every critical component to register as healthy.

# Collector

Gauges that describe the topology are sampled every 15 seconds from a
StatsSource, implemented by the shard manager:

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CommitPhaseDuration, "preCommit")
*/
package metrics
