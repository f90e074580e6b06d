// Package metrics provides Prometheus metrics for the task registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TaskCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskassistant_completions_total",
			Help: "Total number of task completions",
		},
		[]string{"source"},
	)
	TaskRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskassistant_refreshes_total",
			Help: "Total number of task state refreshes",
		},
	)
	TaskRefreshErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskassistant_refresh_errors_total",
			Help: "Total number of failed task state refreshes",
		},
	)
	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskassistant_notifications_sent_total",
			Help: "Total number of overdue notifications delivered",
		},
	)
	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskassistant_notifications_dropped_total",
			Help: "Total number of overdue notifications dropped (queue full or dedup)",
		},
	)
	ConfigReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskassistant_config_reloads_total",
			Help: "Total number of applied config reloads",
		},
	)
	TasksTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskassistant_tasks_tracked",
			Help: "Current number of tracked tasks",
		},
	)
	TasksOverdue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskassistant_tasks_overdue",
			Help: "Current number of overdue tasks",
		},
	)
	MaxOverdueDays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskassistant_max_overdue_days",
			Help: "Days overdue of the most overdue task (0 when none)",
		},
	)
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskassistant_sweep_duration_seconds",
			Help:    "Registry refresh sweep duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)

func RecordCompletion(source string) {
	TaskCompletions.WithLabelValues(source).Inc()
}

func RecordRefresh(err error) {
	TaskRefreshes.Inc()
	if err != nil {
		TaskRefreshErrors.Inc()
	}
}

func RecordSweep(took time.Duration) {
	SweepDuration.Observe(took.Seconds())
}

func RecordNotificationSent() {
	NotificationsSent.Inc()
}

func RecordNotificationDropped() {
	NotificationsDropped.Inc()
}

func RecordConfigReload() {
	ConfigReloads.Inc()
}

// UpdateTaskGauges refreshes the point-in-time gauges after a sweep.
func UpdateTaskGauges(tracked, overdue, maxOverdueDays int) {
	TasksTracked.Set(float64(tracked))
	TasksOverdue.Set(float64(overdue))
	MaxOverdueDays.Set(float64(maxOverdueDays))
}
