// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_probes_total",
			Help: "Probes performed, by resulting status.",
		},
		[]string{"status"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitewatch_probe_response_seconds",
			Help:    "Response time reported by probes.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_notifications_total",
			Help: "Notification deliveries, by channel and result.",
		},
		[]string{"channel", "result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitewatch_cycle_duration_seconds",
			Help:    "Wall time of one monitoring cycle.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	CertificateDaysRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitewatch_certificate_days_remaining",
			Help: "Whole days until the target certificate expires.",
		},
		[]string{"target"},
	)

	MonitorRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewatch_monitor_running",
			Help: "1 while the monitoring loop is running.",
		},
	)

	RetentionDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_retention_deleted_rows_total",
			Help: "Rows deleted by retention, by table.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		ProbesTotal,
		ProbeDuration,
		NotificationsTotal,
		CycleDuration,
		CertificateDaysRemaining,
		MonitorRunning,
		RetentionDeletedTotal,
	)
}

// Delivery results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
