package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/fscache/priority"
)

// Adapter implements priority.Metrics and exports Prometheus counters
// and gauges. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	evictionTries   prometheus.Counter
	skippedSegments *prometheus.CounterVec
	evictedBytes    prometheus.Counter
	evictedSegments prometheus.Counter
	evictSeconds    prometheus.Counter
	usageBytes      prometheus.Gauge
	usageElements   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		evictionTries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "eviction_tries_total",
			Help:        "Eviction candidate collection passes",
			ConstLabels: constLabels,
		}),
		skippedSegments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "eviction_skipped_file_segments_total",
				Help:        "File segments skipped during eviction by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evicted_bytes_total",
			Help:        "Bytes released by finalized evictions",
			ConstLabels: constLabels,
		}),
		evictedSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evicted_file_segments_total",
			Help:        "File segments released by finalized evictions",
			ConstLabels: constLabels,
		}),
		evictSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evict_seconds_total",
			Help:        "Wall-clock time spent deleting segment data",
			ConstLabels: constLabels,
		}),
		usageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "usage_bytes",
			Help:        "Current cached bytes",
			ConstLabels: constLabels,
		}),
		usageElements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "usage_elements",
			Help:        "Current cached file segments",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(
		a.evictionTries, a.skippedSegments,
		a.evictedBytes, a.evictedSegments, a.evictSeconds,
		a.usageBytes, a.usageElements,
	)
	return a
}

// EvictionTry counts one candidate-collection pass.
func (a *Adapter) EvictionTry() { a.evictionTries.Inc() }

// SkippedFileSegment counts a non-releasable segment left in place.
func (a *Adapter) SkippedFileSegment() {
	a.skippedSegments.WithLabelValues("non_releasable").Inc()
}

// SkippedEvictingFileSegment counts an entry skipped because it belongs
// to an in-flight eviction batch.
func (a *Adapter) SkippedEvictingFileSegment() {
	a.skippedSegments.WithLabelValues("evicting").Inc()
}

// Evicted counts finalized evictions.
func (a *Adapter) Evicted(bytes, segments uint64) {
	a.evictedBytes.Add(float64(bytes))
	a.evictedSegments.Add(float64(segments))
}

// EvictDuration accumulates time spent in the unlocked eviction phase.
func (a *Adapter) EvictDuration(d time.Duration) {
	a.evictSeconds.Add(d.Seconds())
}

// Usage updates the current-totals gauges.
func (a *Adapter) Usage(bytes, elements uint64) {
	a.usageBytes.Set(float64(bytes))
	a.usageElements.Set(float64(elements))
}

// Compile-time check: ensure Adapter implements priority.Metrics.
var _ priority.Metrics = (*Adapter)(nil)
