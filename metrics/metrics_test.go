package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatal(err)
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestGetIsSingleton(t *testing.T) {
	if Get() != Get() {
		t.Fatal("expected the same registry")
	}
}

func TestSetStateMovesGauge(t *testing.T) {
	r := Get()
	before := value(t, r.Sessions.WithLabelValues("test_ready"))

	r.SetState("", "test_launching")
	r.SetState("test_launching", "test_ready")

	if got := value(t, r.Sessions.WithLabelValues("test_launching")); got != 0 {
		t.Errorf("expected launching gauge back at 0, got %v", got)
	}
	if got := value(t, r.Sessions.WithLabelValues("test_ready")); got != before+1 {
		t.Errorf("expected ready gauge %v, got %v", before+1, got)
	}
}

func TestCountersByLabel(t *testing.T) {
	r := Get()
	c := r.MessagesDropped.WithLabelValues("test_resize")
	before := value(t, c)
	c.Inc()
	if got := value(t, c); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
