package priority

import "time"

// Metrics exposes the engine's telemetry hooks. All counters are
// monotonically increasing; Usage is a gauge pair fed from the shared
// State counters. A NoopMetrics implementation is provided and used by
// default; plug the metrics/prom adapter to export to Prometheus.
type Metrics interface {
	// EvictionTry is incremented once per candidate-collection pass.
	EvictionTry()
	// SkippedFileSegment is incremented per non-releasable segment visited.
	SkippedFileSegment()
	// SkippedEvictingFileSegment is incremented per entry skipped because
	// its evicting flag was set.
	SkippedEvictingFileSegment()
	// Evicted reports bytes and segments removed, at finalize time.
	Evicted(bytes, segments uint64)
	// EvictDuration reports wall-clock time spent deleting segment data.
	EvictDuration(d time.Duration)
	// Usage reports the current totals. Values are advisory: they are
	// read without the priority lock.
	Usage(bytes, elements uint64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) EvictionTry()                  {}
func (NoopMetrics) SkippedFileSegment()           {}
func (NoopMetrics) SkippedEvictingFileSegment()   {}
func (NoopMetrics) Evicted(bytes, segments uint64) {}
func (NoopMetrics) EvictDuration(time.Duration)   {}
func (NoopMetrics) Usage(bytes, elements uint64)  {}

var _ Metrics = NoopMetrics{}
