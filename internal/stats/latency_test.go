package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func record(w *LatencyWindow, values ...int) {
	for _, v := range values {
		w.Record(time.Duration(v) * time.Millisecond)
	}
}

func TestSnapshotBasics(t *testing.T) {
	w := NewLatencyWindow()
	record(w, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	s := w.Snapshot()
	if s.Count != 10 {
		t.Errorf("count = %d, want 10", s.Count)
	}
	if s.Min != time.Millisecond {
		t.Errorf("min = %v, want 1ms", s.Min)
	}
	if s.Max != 10*time.Millisecond {
		t.Errorf("max = %v, want 10ms", s.Max)
	}
	if s.Mean != 5500*time.Microsecond {
		t.Errorf("mean = %v, want 5.5ms", s.Mean)
	}
}

func TestPercentileIndexing(t *testing.T) {
	w := NewLatencyWindow()
	record(w, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	s := w.Snapshot()
	// index = floor(10 * 0.95) = 9 -> the 10ms sample
	if s.P95 != 10*time.Millisecond {
		t.Errorf("p95 = %v, want 10ms", s.P95)
	}
	if s.P99 != 10*time.Millisecond {
		t.Errorf("p99 = %v, want 10ms", s.P99)
	}
	// index = floor(10 * 0.5) = 5 -> the 6ms sample
	if s.Median != 6*time.Millisecond {
		t.Errorf("median = %v, want 6ms", s.Median)
	}
}

func TestStdDevPopulation(t *testing.T) {
	w := NewLatencyWindow()
	record(w, 2, 4, 4, 4, 5, 5, 7, 9)

	s := w.Snapshot()
	// Population stddev of this classic set is exactly 2
	if s.StdDev != 2*time.Millisecond {
		t.Errorf("stddev = %v, want 2ms", s.StdDev)
	}
}

func TestEmptySnapshot(t *testing.T) {
	w := NewLatencyWindow()
	s := w.Snapshot()
	if s.Count != 0 || s.Mean != 0 {
		t.Errorf("empty window should be zero snapshot, got %+v", s)
	}
}

func TestWindowEviction(t *testing.T) {
	w := NewLatencyWindow()
	for i := 0; i < WindowSize+100; i++ {
		w.Record(time.Millisecond)
	}

	s := w.Snapshot()
	if s.Count != WindowSize {
		t.Errorf("count = %d, want %d", s.Count, WindowSize)
	}
	if w.Total() != WindowSize+100 {
		t.Errorf("total = %d, want %d", w.Total(), WindowSize+100)
	}
}

func TestRecentMeans(t *testing.T) {
	w := NewLatencyWindow()
	record(w, 10, 10, 10, 20, 20, 20)

	recent, preceding, ok := w.RecentMeans(3)
	if !ok {
		t.Fatal("expected enough samples")
	}
	if recent != 20*time.Millisecond || preceding != 10*time.Millisecond {
		t.Errorf("recent=%v preceding=%v", recent, preceding)
	}

	if _, _, ok := w.RecentMeans(4); ok {
		t.Error("expected not enough samples for n=4")
	}
}

func TestAnomalyDegradation(t *testing.T) {
	w := NewLatencyWindow()
	cfg := AnomalyConfig{SampleSize: 3, Threshold: 0.2}
	d := NewAnomalyDetector(cfg)

	record(w, 10, 10, 10, 20, 20, 20)

	a := d.Check(w)
	if a == nil {
		t.Fatal("expected anomaly")
	}
	if a.Direction != DirectionDegradation {
		t.Errorf("direction = %s, want degradation", a.Direction)
	}
	if a.Magnitude < 0.99 || a.Magnitude > 1.01 {
		t.Errorf("magnitude = %v, want ~1.0", a.Magnitude)
	}
}

func TestAnomalyImprovement(t *testing.T) {
	w := NewLatencyWindow()
	d := NewAnomalyDetector(AnomalyConfig{SampleSize: 3, Threshold: 0.2})

	record(w, 20, 20, 20, 10, 10, 10)

	a := d.Check(w)
	if a == nil || a.Direction != DirectionImprovement {
		t.Fatalf("expected improvement anomaly, got %+v", a)
	}
}

func TestNoAnomalyWithinThreshold(t *testing.T) {
	w := NewLatencyWindow()
	d := NewAnomalyDetector(AnomalyConfig{SampleSize: 3, Threshold: 0.2})

	record(w, 10, 10, 10, 11, 11, 11)

	if a := d.Check(w); a != nil {
		t.Errorf("10%% drift should not flag at 20%% threshold, got %+v", a)
	}
}

func TestNoAnomalyWithoutSamples(t *testing.T) {
	w := NewLatencyWindow()
	d := NewAnomalyDetector(DefaultAnomalyConfig())

	record(w, 10, 10, 10)
	if a := d.Check(w); a != nil {
		t.Errorf("too few samples should not flag, got %+v", a)
	}
}

func TestExporterObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Observe(ProcessingStats{
		EventsSubmitted: 10,
		EventsProcessed: 8,
		QueueDepth:      2,
		Latency:         Snapshot{P95: 50 * time.Millisecond, Mean: 20 * time.Millisecond},
	})
	e.AlertCreated("critical")

	// Second snapshot advances counters by the delta only
	e.Observe(ProcessingStats{
		EventsSubmitted: 15,
		EventsProcessed: 12,
		QueueDepth:      1,
	})

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				found[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				found[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	if found["sentinel_events_submitted_total"] != 15 {
		t.Errorf("submitted = %v, want 15", found["sentinel_events_submitted_total"])
	}
	if found["sentinel_queue_depth"] != 1 {
		t.Errorf("queue depth = %v, want 1", found["sentinel_queue_depth"])
	}
	if found["sentinel_alerts_created_total"] != 1 {
		t.Errorf("alerts created = %v, want 1", found["sentinel_alerts_created_total"])
	}
}
