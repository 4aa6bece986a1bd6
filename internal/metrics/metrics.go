// Package metrics exposes the dispatcher's internal counters as
// Prometheus collectors, the way systemli-userli-postfix-adapter's
// prometheus.go declares a package of New*Vec collectors with descriptive
// Help strings for a socket-facing server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the dispatcher and worker pool update.
// A single instance is constructed at startup and threaded through the
// components that need it, rather than relying on the default global
// registry, so tests can build an isolated Registry per case.
type Registry struct {
	LiveConnections   prometheus.Gauge
	QueueDepth        prometheus.Gauge
	RejectedSubmits   prometheus.Counter
	RejectedAccepts   prometheus.Counter
	TimerSweeps       prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec
	TasksProcessed    prometheus.Counter
	DBHandlesInUse    prometheus.Gauge
}

// NewRegistry builds and registers all collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventd_live_connections",
			Help: "Number of currently live connections (m_user_count).",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventd_task_queue_depth",
			Help: "Current number of items pending in the task queue.",
		}),
		RejectedSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventd_task_queue_rejected_total",
			Help: "Total number of task submissions rejected because the queue was full.",
		}),
		RejectedAccepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventd_accept_rejected_total",
			Help: "Total number of accepted sockets rejected because the connection table was full.",
		}),
		TimerSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventd_timer_sweeps_total",
			Help: "Total number of timer wheel ticks processed.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventd_connections_closed_total",
			Help: "Total number of connections closed, labeled by reason.",
		}, []string{"reason"}),
		TasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventd_tasks_processed_total",
			Help: "Total number of worker-pool tasks completed.",
		}),
		DBHandlesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventd_db_handles_in_use",
			Help: "Number of database handles currently checked out from the pool.",
		}),
	}
	reg.MustRegister(
		m.LiveConnections, m.QueueDepth, m.RejectedSubmits, m.RejectedAccepts,
		m.TimerSweeps, m.ConnectionsClosed, m.TasksProcessed, m.DBHandlesInUse,
	)
	return m
}
