package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commune-io/relay/internal/common/config"
)

// Metrics holds the relay's prometheus collectors.
type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	activeConns prometheus.Gauge
	connects    *prometheus.CounterVec
	disconnects prometheus.Counter
	delivered   *prometheus.CounterVec
	feedErrors  *prometheus.CounterVec
}

// New creates a Metrics registry for the relay
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	activeConns := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "active_connections"})
	connects := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "connections_total"}, []string{"status"})
	disconnects := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "disconnections_total"})
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_delivered_total"}, []string{"event"})
	feedErrors := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "feed_errors_total"}, []string{"feed"})
	r.MustRegister(activeConns, connects, disconnects, delivered, feedErrors)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		activeConns: activeConns,
		connects:    connects,
		disconnects: disconnects,
		delivered:   delivered,
		feedErrors:  feedErrors,
	}
}

// ConnOpened records a connection passing the gate and joining the registry
func (m *Metrics) ConnOpened() {
	m.connects.WithLabelValues("accepted").Inc()
	m.activeConns.Inc()
}

// ConnRefused records a connection refused at the gate
func (m *Metrics) ConnRefused(reason string) {
	m.connects.WithLabelValues(reason).Inc()
}

// ConnClosed records a connection leaving the registry
func (m *Metrics) ConnClosed() {
	m.disconnects.Inc()
	m.activeConns.Dec()
}

// EventDelivered records one event delivered to one connection
func (m *Metrics) EventDelivered(event string) {
	m.delivered.WithLabelValues(event).Inc()
}

// FeedError records a change-feed level error
func (m *Metrics) FeedError(feed string) {
	m.feedErrors.WithLabelValues(feed).Inc()
}

// Handler returns the prometheus scrape handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
