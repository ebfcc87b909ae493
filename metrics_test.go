package goSession

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSessionSaved)

	if got := m.Value(MetricSessionSaved); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsEnabledIncrementAndAdd(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSessionSaved)
	m.Inc(MetricSessionSaved)
	m.Add(MetricCleanupCandidates, 40)
	m.Add(MetricCleanupCandidates, 0)

	if got := m.Value(MetricSessionSaved); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.Value(MetricCleanupCandidates); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricSessionLoaded)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricSessionLoaded); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricSaveLatency, d)
	}
	m.Observe(MetricFindLatency, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricSaveLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, got := range buckets {
		if got != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, got)
		}
	}
	if got := snap.Histograms[MetricFindLatency][0]; got != 1 {
		t.Fatalf("expected find latency bucket 0 to be 1, got %d", got)
	}
	if _, ok := snap.Counters[MetricSaveLatency]; ok {
		t.Fatal("latency metrics must not appear as counters")
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricSessionSaved, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricSessionSaved]; ok {
		t.Fatal("counter metric must not have a histogram")
	}
}

func TestMetricsHistogramsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricSaveLatency, time.Millisecond)

	if m.LatencyEnabled() {
		t.Fatal("expected latency disabled")
	}
	if snap := m.Snapshot(); len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms, got %v", snap.Histograms)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogin)
	m.Observe(MetricSaveLatency, time.Second)
	if m.Enabled() || m.Value(MetricLogin) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}
