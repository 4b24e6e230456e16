// Package metrics exposes Prometheus collectors for the session dispatch
// loop, the detail loader and the event stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "panel"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events         *prometheus.CounterVec
	ProtocolErrors prometheus.Counter
	Sessions       *prometheus.CounterVec
	StreamsOpened  prometheus.Counter
	Fetches        *prometheus.CounterVec
	Generation     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Stream events handled by the dispatcher, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal phase.",
		}, []string{"phase"}),
		StreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Event streams opened.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_fetches_total",
			Help:      "Detail loads by result: fetched, shared, cached, archived or failed.",
		}, []string{"result"}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_generation",
			Help:      "Current stream generation of the controller.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.ProtocolErrors, m.Sessions, m.StreamsOpened, m.Fetches, m.Generation)
	}
	return m
}

// Event counts one dispatched event.
func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind, outcome).Inc()
}

// ProtocolError counts one undecodable frame.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// SessionFinished counts a session reaching phase.
func (m *Metrics) SessionFinished(phase string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(phase).Inc()
}

// StreamOpened counts an opened stream and records its generation.
func (m *Metrics) StreamOpened(generation uint64) {
	if m == nil {
		return
	}
	m.StreamsOpened.Inc()
	m.Generation.Set(float64(generation))
}

// SetGeneration records the controller generation.
func (m *Metrics) SetGeneration(generation uint64) {
	if m == nil {
		return
	}
	m.Generation.Set(float64(generation))
}

// Fetch counts one detail load.
func (m *Metrics) Fetch(result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
}
