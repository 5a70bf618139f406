package falcon

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// prommetrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordBuild is called after each index build. passive is the number
	// of passive views, err is nil if successful.
	RecordBuild(passive int, duration time.Duration, err error)

	// RecordResolve is called after each brush resolution.
	RecordResolve(views int, duration time.Duration, err error)

	// RecordFilter is called when a filter changes. rebuild reports whether
	// the change invalidated the index.
	RecordFilter(dimension string, rebuild bool)

	// RecordMaskCache is called on every filter mask lookup of a backend
	// wired to the collector.
	RecordMaskCache(hit bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordResolve(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFilter(string, bool)               {}
func (NoopMetricsCollector) RecordMaskCache(bool)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests.
type BasicMetricsCollector struct {
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildTotalNanos   atomic.Int64
	ResolveCount      atomic.Int64
	ResolveErrors     atomic.Int64
	ResolveTotalNanos atomic.Int64
	FilterCount       atomic.Int64
	FilterRebuilds    atomic.Int64
	MaskHits          atomic.Int64
	MaskMisses        atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(passive int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(views int, duration time.Duration, err error) {
	b.ResolveCount.Add(1)
	b.ResolveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ResolveErrors.Add(1)
	}
}

// RecordFilter implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFilter(_ string, rebuild bool) {
	b.FilterCount.Add(1)
	if rebuild {
		b.FilterRebuilds.Add(1)
	}
}

// RecordMaskCache implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaskCache(hit bool) {
	if hit {
		b.MaskHits.Add(1)
	} else {
		b.MaskMisses.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:      b.BuildCount.Load(),
		BuildErrors:     b.BuildErrors.Load(),
		BuildAvgNanos:   avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		ResolveCount:    b.ResolveCount.Load(),
		ResolveErrors:   b.ResolveErrors.Load(),
		ResolveAvgNanos: avg(b.ResolveTotalNanos.Load(), b.ResolveCount.Load()),
		FilterCount:     b.FilterCount.Load(),
		FilterRebuilds:  b.FilterRebuilds.Load(),
		MaskHits:        b.MaskHits.Load(),
		MaskMisses:      b.MaskMisses.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildErrors     int64
	BuildAvgNanos   int64
	ResolveCount    int64
	ResolveErrors   int64
	ResolveAvgNanos int64
	FilterCount     int64
	FilterRebuilds  int64
	MaskHits        int64
	MaskMisses      int64
}
