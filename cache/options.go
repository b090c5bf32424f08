package cache

import (
	"log/slog"

	"github.com/IvanBrykalov/fscache/priority"
)

// Options configures a file segment cache. Zero values are safe: no
// limits, plain LRU, no metrics, no logging.
type Options struct {
	// Dir is the root directory for segment data files.
	Dir string

	// MaxSize is the total byte limit; 0 = unbounded.
	MaxSize uint64

	// MaxElements is the total segment count limit; 0 = unbounded.
	MaxElements uint64

	// SLRUSizeRatio, when in (0, 1), selects a segmented LRU queue with
	// this protected share. 0 selects plain LRU.
	SLRUSizeRatio float64

	// Metrics receives the engine telemetry; nil => NoopMetrics.
	// Plug metrics/prom to export to Prometheus.
	Metrics priority.Metrics

	// Logger receives debug-level per-operation lines; nil => discard.
	Logger *slog.Logger
}
