package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic controller-runtime metrics (reconcile counts,
// durations, work queue depth, etc.) with operator-specific state that the
// framework cannot know about.
var (
	instanceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "odoo_operator_instance_info",
			Help: "Info-style metric for OdooInstance discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	instanceReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "odoo_operator_instance_replicas",
			Help: "Odoo pod replica counts for an instance.",
		},
		[]string{"name", "namespace", "state"},
	)

	jobCompletionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odoo_operator_job_completion_total",
			Help: "Total number of lifecycle jobs that reached a terminal phase.",
		},
		[]string{"kind", "phase"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "odoo_operator_job_duration_seconds",
			Help:    "Wall-clock duration of lifecycle jobs from submission to terminal phase.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"kind"},
	)

	scaleOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odoo_operator_scale_operation_total",
			Help: "Total number of replica scale operations driven by exclusive jobs.",
		},
		[]string{"direction", "result"},
	)

	webhookNotifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odoo_operator_webhook_notify_total",
			Help: "Total number of outbound webhook notifications.",
		},
		[]string{"result"},
	)

	databaseOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odoo_operator_database_operation_total",
			Help: "Total number of PostgreSQL provisioning operations.",
		},
		[]string{"operation", "result"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		instanceInfo,
		instanceReplicas,
		jobCompletionTotal,
		jobDuration,
		scaleOperationTotal,
		webhookNotifyTotal,
		databaseOperationTotal,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		instanceInfo,
		instanceReplicas,
		jobCompletionTotal,
		jobDuration,
		scaleOperationTotal,
		webhookNotifyTotal,
		databaseOperationTotal,
	}
}
