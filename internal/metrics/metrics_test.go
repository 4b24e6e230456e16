package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Event("survey_response", "applied")
	m.ProtocolError()
	m.SessionFinished("complete")
	m.StreamOpened(3)
	m.SetGeneration(4)
	m.Fetch("fetched")
}

// gathered sums the values of a metric family, filtered by one label pair
// when label is non-empty.
func gathered(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("survey_response", "applied")
	m.Event("survey_response", "applied")
	m.Event("survey_response", "duplicate")
	m.StreamOpened(7)
	m.Fetch("shared")

	tests := []struct {
		name, label, value string
		want               float64
	}{
		{"panel_events_total", "outcome", "applied", 2},
		{"panel_events_total", "outcome", "duplicate", 1},
		{"panel_streams_opened_total", "", "", 1},
		{"panel_stream_generation", "", "", 7},
		{"panel_session_fetches_total", "result", "shared", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.value, func(t *testing.T) {
			if got := gathered(t, reg, tt.name, tt.label, tt.value); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
