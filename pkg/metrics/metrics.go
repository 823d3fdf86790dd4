// Package metrics registers the gateway's Prometheus collectors. All metrics
// are advisory: recording failures never affect request flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestLatency     *prometheus.HistogramVec
	EscalationsTotal   prometheus.Counter
	DowngradesTotal    prometheus.Counter
	StageFallbacks     *prometheus.CounterVec
	TokensTotal        prometheus.Counter
	IPCConnections     prometheus.Gauge
	IPCMessagesTotal   *prometheus.CounterVec
	IPCCommandFanouts  *prometheus.CounterVec
	IPCReapedTotal     prometheus.Counter
}

// New registers the collectors on reg and returns the set.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcanos_requests_total",
			Help: "Pipeline requests by tier and outcome.",
		}, []string{"tier", "outcome"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arcanos_request_latency_seconds",
			Help:    "End-to-end pipeline latency by tier.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"tier"}),
		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcanos_escalations_total",
			Help: "Requests escalated to a higher tier on low CLEAR score.",
		}),
		DowngradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcanos_model_downgrades_total",
			Help: "Requests answered by a weaker model than requested.",
		}),
		StageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcanos_stage_fallbacks_total",
			Help: "Stage executions that used the fallback model.",
		}, []string{"stage"}),
		TokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcanos_tokens_total",
			Help: "Total tokens consumed across all requests.",
		}),
		IPCConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arcanos_ipc_connections",
			Help: "Currently registered daemon connections.",
		}),
		IPCMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcanos_ipc_messages_total",
			Help: "Inbound IPC messages by type.",
		}, []string{"type"}),
		IPCCommandFanouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcanos_ipc_command_fanouts_total",
			Help: "Command dispatch attempts by result.",
		}, []string{"result"}),
		IPCReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcanos_ipc_reaped_connections_total",
			Help: "Stale daemon connections removed by the reaper.",
		}),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
