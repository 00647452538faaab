package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts console activity.
type Metrics struct {
	ProcessStarts   prometheus.Counter
	ProcessExits    *prometheus.CounterVec
	StartFailures   *prometheus.CounterVec
	OutputBytes     prometheus.Counter
	InputLines      prometheus.Counter
	CommandsTotal   *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

// NewMetrics creates the console collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "process_starts_total",
			Help:      "Child processes spawned.",
		}),
		ProcessExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "process_exits_total",
			Help:      "Child process exits, labeled by outcome (ok, failed, killed, error).",
		}, []string{"outcome"}),
		StartFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "process_start_failures_total",
			Help:      "Start requests that did not spawn a child, labeled by kind.",
		}, []string{"kind"}),
		OutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "output_bytes_total",
			Help:      "Bytes of normalized child output delivered to the display log.",
		}),
		InputLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "input_lines_total",
			Help:      "Lines written to child stdin.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "commands_total",
			Help:      "Console commands consumed, labeled by subject and result.",
		}, []string{"subject", "result"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "event_publish_failures_total",
			Help:      "Console changes that could not be published as events.",
		}),
	}
	reg.MustRegister(
		m.ProcessStarts,
		m.ProcessExits,
		m.StartFailures,
		m.OutputBytes,
		m.InputLines,
		m.CommandsTotal,
		m.PublishFailures,
	)
	return m
}
