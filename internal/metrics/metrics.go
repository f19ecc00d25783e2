package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts dispatcher and notifier activity.
type Collector struct {
	registry      *prometheus.Registry
	commands      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sessions      prometheus.Counter
	lines         prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhymecircle_commands_total",
			Help: "Handled bot commands by name and outcome.",
		}, []string{"command", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhymecircle_notifications_total",
			Help: "Outbound notification deliveries by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rhymecircle_sessions_created_total",
			Help: "Game sessions created.",
		}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rhymecircle_lines_submitted_total",
			Help: "Lines accepted into games.",
		}),
	}
	c.registry.MustRegister(c.commands, c.notifications, c.sessions, c.lines)
	return c
}

func (c *Collector) RecordCommand(command, outcome string) {
	c.commands.WithLabelValues(command, outcome).Inc()
}

func (c *Collector) RecordNotification(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.notifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSessionCreated() {
	c.sessions.Inc()
}

func (c *Collector) RecordLineSubmitted() {
	c.lines.Inc()
}

// Handler serves the collector's registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
