package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or latency histogram.
type MetricID uint16

const (
	// MetricSessionCreated counts sessions handed out by CreateSession.
	MetricSessionCreated MetricID = iota
	// MetricSessionLoaded counts FindByID calls that returned a live session.
	MetricSessionLoaded
	// MetricSessionNotFound counts FindByID calls for missing or expired ids.
	MetricSessionNotFound
	// MetricSessionLoadFailure counts FindByID calls failing with an error
	// other than not found.
	MetricSessionLoadFailure
	// MetricSessionSaved counts successful saves.
	MetricSessionSaved
	// MetricSessionSaveFailure counts failed saves.
	MetricSessionSaveFailure
	// MetricSessionIDRotated counts saves that renamed a session id.
	MetricSessionIDRotated
	// MetricSessionDeleted counts deletions of existing sessions.
	MetricSessionDeleted
	// MetricLogin counts successful Login calls.
	MetricLogin
	// MetricLogoutAll counts LogoutAll calls.
	MetricLogoutAll
	// MetricPrincipalLookup counts principal index lookups.
	MetricPrincipalLookup
	// MetricCleanupRun counts cleanup passes.
	MetricCleanupRun
	// MetricCleanupCandidates accumulates the markers examined by cleanup.
	MetricCleanupCandidates
	// MetricCleanupExpired accumulates sessions deleted by cleanup.
	MetricCleanupExpired
	// MetricCleanupStale accumulates stale markers dropped by cleanup.
	MetricCleanupStale
	// MetricCleanupFailure counts cleanup passes that returned an error.
	MetricCleanupFailure
	// MetricSaveLatency is the Save latency histogram.
	MetricSaveLatency
	// MetricFindLatency is the FindByID latency histogram.
	MetricFindLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters and histograms. A nil or
// disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of a [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a metrics set. A disabled set ignores every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are collected.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram id. Only the latency metrics accept
// observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isLatencyMetric(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current counters and, when latency histograms are
// enabled, their buckets. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(latencyMetrics)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

var latencyMetrics = [...]MetricID{MetricSaveLatency, MetricFindLatency}

func isLatencyMetric(id MetricID) bool {
	return id == MetricSaveLatency || id == MetricFindLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
