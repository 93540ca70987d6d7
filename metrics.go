package pmem

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordCopy is called after each copy operation executed by a mover.
	// bytes is the payload size, duration the time taken.
	RecordCopy(bytes int, duration time.Duration)

	// RecordMove is called after each move operation executed by a mover.
	RecordMove(bytes int, duration time.Duration)

	// RecordFlush is called after each flush of a mapped range.
	// err is nil if the flush reached stable media.
	RecordFlush(bytes int, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot attempt.
	RecordSnapshot(bytes int64, duration time.Duration, err error)

	// RecordRestore is called after each restore attempt.
	RecordRestore(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCopy(int, time.Duration)              {}
func (NoopMetricsCollector) RecordMove(int, time.Duration)              {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSnapshot(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordRestore(int64, time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CopyCount       atomic.Int64
	CopyBytes       atomic.Int64
	CopyTotalNanos  atomic.Int64
	MoveCount       atomic.Int64
	MoveBytes       atomic.Int64
	MoveTotalNanos  atomic.Int64
	FlushCount      atomic.Int64
	FlushBytes      atomic.Int64
	FlushErrors     atomic.Int64
	FlushTotalNanos atomic.Int64
	SnapshotCount   atomic.Int64
	SnapshotErrors  atomic.Int64
	RestoreCount    atomic.Int64
	RestoreErrors   atomic.Int64
}

// RecordCopy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCopy(bytes int, duration time.Duration) {
	b.CopyCount.Add(1)
	b.CopyBytes.Add(int64(bytes))
	b.CopyTotalNanos.Add(duration.Nanoseconds())
}

// RecordMove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMove(bytes int, duration time.Duration) {
	b.MoveCount.Add(1)
	b.MoveBytes.Add(int64(bytes))
	b.MoveTotalNanos.Add(duration.Nanoseconds())
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(bytes int, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushBytes.Add(int64(bytes))
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(bytes int64, duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore(bytes int64, duration time.Duration, err error) {
	b.RestoreCount.Add(1)
	if err != nil {
		b.RestoreErrors.Add(1)
	}
}
