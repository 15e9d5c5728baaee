package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedCounter struct {
	queued     int
	processing int
}

func (f fixedCounter) Counts() (int, int) {
	return f.queued, f.processing
}

func TestRegisterStreamGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	if err := RegisterStreamGauges(registry, fixedCounter{queued: 3, processing: 1}); err != nil {
		t.Fatalf("RegisterStreamGauges() error = %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("metric families = %d", len(families))
	}
	values := map[string]float64{}
	for _, family := range families {
		values[family.GetName()] = family.GetMetric()[0].GetGauge().GetValue()
	}
	if values["querygate_streams_queued"] != 3 {
		t.Fatalf("queued gauge = %v", values["querygate_streams_queued"])
	}
	if values["querygate_streams_processing"] != 1 {
		t.Fatalf("processing gauge = %v", values["querygate_streams_processing"])
	}
}

func TestObserveJobOutcomeCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("timeout"))
	ObserveJobOutcome("timeout", 4, 0)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("timeout")); got != before+1 {
		t.Fatalf("jobs_total{timeout} = %v, want %v", got, before+1)
	}
}
