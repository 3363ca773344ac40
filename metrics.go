package sessioncore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricSessionCreated counts successful session creations.
	MetricSessionCreated MetricID = iota
	// MetricSessionDestroyed counts explicit destructions.
	MetricSessionDestroyed
	// MetricSessionEvicted counts per-user capacity evictions.
	MetricSessionEvicted
	// MetricSessionExpired counts sessions retired by the expiry sweep.
	MetricSessionExpired
	// MetricSessionExtended counts successful renewals.
	MetricSessionExtended
	// MetricCacheHit counts reads served from the cache tier.
	MetricCacheHit
	// MetricCacheMiss counts reads that fell through to the durable store.
	MetricCacheMiss
	// MetricCacheDegraded counts cache failures absorbed as degradation.
	MetricCacheDegraded
	// MetricUpdateApplied counts successful context merges.
	MetricUpdateApplied
	// MetricQuotaWarning counts soft-threshold breaches.
	MetricQuotaWarning
	// MetricQuotaTruncated counts updates that required whitelist truncation.
	MetricQuotaTruncated
	// MetricQuotaRejected counts updates rejected after truncation.
	MetricQuotaRejected
	// MetricRecoveryInitiated counts recovery payload reconstructions.
	MetricRecoveryInitiated
	// MetricSweepRuns counts completed expiry sweep passes.
	MetricSweepRuns
	// MetricAggregationRuns counts completed usage aggregation passes.
	MetricAggregationRuns
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free counter registry. Counters are padded to avoid
// false sharing on the hot read/update paths.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

func newMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments a counter. Disabled registries are no-ops.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies all counters. Values are read individually; the snapshot
// is not atomic across counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
