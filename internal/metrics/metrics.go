// Package metrics exposes Prometheus instrumentation for the correlation
// engine. Each Metrics value owns its registry so tests and multiple engines
// in one process do not collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	messages     *prometheus.CounterVec
	attributions prometheus.Counter
	sinkErrors   *prometheus.CounterVec
	assets       prometheus.Gauge
	permits      prometheus.Gauge
	pendingLinks prometheus.Gauge
	streamStale  *prometheus.GaugeVec
}

// New creates and registers the engine collectors on a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitlink_messages_total",
				Help: "Messages processed by stream and outcome.",
			},
			[]string{"stream", "outcome"},
		),
		attributions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "permitlink_attributions_total",
			Help: "Datapoint-to-permit attributions found.",
		}),
		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitlink_sink_errors_total",
				Help: "Attribution sink write failures by sink.",
			},
			[]string{"sink"},
		),
		assets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permitlink_assets",
			Help: "Assets held in the entity store.",
		}),
		permits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permitlink_permits",
			Help: "Work permits held in the entity store.",
		}),
		pendingLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permitlink_pending_links",
			Help: "Association events parked until their asset or permit arrives.",
		}),
		streamStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "permitlink_stream_stale",
				Help: "1 when a stream has been quiet for longer than the stale threshold.",
			},
			[]string{"stream"},
		),
	}
	m.registry.MustRegister(
		m.messages, m.attributions, m.sinkErrors,
		m.assets, m.permits, m.pendingLinks, m.streamStale,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMessage counts one processed message.
func (m *Metrics) ObserveMessage(stream, outcome string) {
	m.messages.WithLabelValues(stream, outcome).Inc()
}

// ObserveAttributions counts n attributions.
func (m *Metrics) ObserveAttributions(n int) {
	m.attributions.Add(float64(n))
}

// ObserveSinkError counts one failed sink write.
func (m *Metrics) ObserveSinkError(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetStoreSize records the entity store size.
func (m *Metrics) SetStoreSize(assets, permits int) {
	m.assets.Set(float64(assets))
	m.permits.Set(float64(permits))
}

// SetPendingLinks records the pending-link buffer size.
func (m *Metrics) SetPendingLinks(n int) {
	m.pendingLinks.Set(float64(n))
}

// SetStreamStale records whether stream is stale.
func (m *Metrics) SetStreamStale(stream string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	m.streamStale.WithLabelValues(stream).Set(v)
}
