package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
// The helper methods are nil-safe so components can run without a registry in tests.
type Metrics struct {
	IncomingUpdates   *prometheus.CounterVec
	OutgoingMessages  *prometheus.CounterVec
	ModerationActions *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	Redemptions       *prometheus.CounterVec
	LedgerOps         *prometheus.CounterVec
	PlatformRequests  *prometheus.CounterVec
	PlatformLatency   *prometheus.HistogramVec
	JobRuns           *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_updates_total",
				Help:      "Total chat platform updates processed.",
			}, []string{"type"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total messages sent to the chat platform.",
			}, []string{"type"}),
			ModerationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moderation_actions_total",
				Help:      "Moderation actions taken by kind.",
			}, []string{"action"}),
			Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification challenge results.",
			}, []string{"result"}),
			Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redemptions_total",
				Help:      "Redeem and spin attempts by catalog kind and outcome.",
			}, []string{"kind", "outcome"}),
			LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Balance operations by operation and status.",
			}, []string{"op", "status"}),
			PlatformRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_requests_total",
				Help:      "Total chat platform API requests by method and status.",
			}, []string{"method", "status"}),
			PlatformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_request_duration_seconds",
				Help:      "Latency distribution for chat platform API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "status"}),
			JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Scheduled job executions by job and status.",
			}, []string{"job", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IncomingUpdates,
			metricsInstance.OutgoingMessages,
			metricsInstance.ModerationActions,
			metricsInstance.Verifications,
			metricsInstance.Redemptions,
			metricsInstance.LedgerOps,
			metricsInstance.PlatformRequests,
			metricsInstance.PlatformLatency,
			metricsInstance.JobRuns,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// Incoming counts one processed update.
func (m *Metrics) Incoming(kind string) {
	if m == nil {
		return
	}
	m.IncomingUpdates.WithLabelValues(kind).Inc()
}

// Outgoing counts one message sent.
func (m *Metrics) Outgoing(kind string) {
	if m == nil {
		return
	}
	m.OutgoingMessages.WithLabelValues(kind).Inc()
}

// Moderation counts a moderation action.
func (m *Metrics) Moderation(action string) {
	if m == nil {
		return
	}
	m.ModerationActions.WithLabelValues(action).Inc()
}

// Verification counts a challenge result.
func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

// Redemption counts a redeem or spin outcome.
func (m *Metrics) Redemption(kind, outcome string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(kind, outcome).Inc()
}

// Ledger counts a balance operation.
func (m *Metrics) Ledger(op, status string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, status).Inc()
}

// PlatformCall records one chat platform API call.
func (m *Metrics) PlatformCall(method, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.PlatformRequests.WithLabelValues(method, status).Inc()
	m.PlatformLatency.WithLabelValues(method, status).Observe(took.Seconds())
}

// Job counts a scheduled job run.
func (m *Metrics) Job(name, status string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(name, status).Inc()
}

// Error counts an error attributed to component.
func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
