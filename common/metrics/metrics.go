// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine and control plane report to.
type Metrics struct {
	ExecutionsStarted  prometheus.Counter
	ExecutionsFinished *prometheus.CounterVec
	NodesExecuted      *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	EventsAppended     prometheus.Counter
	SnapshotsWritten   prometheus.Counter
	UpstreamRequests   *prometheus.CounterVec
}

// New registers the engine collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_executions_started_total",
			Help: "Workflow executions started.",
		}),
		ExecutionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_executions_finished_total",
			Help: "Workflow executions that reached a terminal or paused state.",
		}, []string{"status"}),
		NodesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nodes_executed_total",
			Help: "Nodes dispatched by the run loop.",
		}, []string{"node_type", "outcome"}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_node_duration_seconds",
			Help:    "Wall time spent dispatching a node.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_appended_total",
			Help: "Execution events appended to the log.",
		}),
		SnapshotsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_snapshots_written_total",
			Help: "Context snapshots written.",
		}),
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Upstream HTTP requests issued by request nodes.",
		}, []string{"outcome"}),
	}
}

// NewNop returns metrics bound to a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
