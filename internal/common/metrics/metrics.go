// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherbot_notifications_sent_total",
			Help: "Total number of daily digests delivered",
		},
		[]string{"client"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherbot_notification_failures_total",
			Help: "Total number of failed digest deliveries",
		},
		[]string{"client", "reason"},
	)

	SchedulerCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherbot_scheduler_cycles_total",
			Help: "Total number of scheduler poll cycles",
		},
	)

	SchedulerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "weatherbot_scheduler_cycle_duration_seconds",
			Help: "Duration of one scheduler poll cycle",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherbot_session_cache_size",
			Help: "Number of session records currently cached in memory",
		},
	)

	SessionStoreAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherbot_session_store_available",
			Help: "Whether the durable session store is reachable (1) or degraded (0)",
		},
	)

	MirrorWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherbot_mirror_writes_dropped_total",
			Help: "Durable mirror writes dropped because the queue was full",
		},
	)

	MirrorWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherbot_mirror_write_failures_total",
			Help: "Durable mirror writes that failed against the session store",
		},
	)
)
