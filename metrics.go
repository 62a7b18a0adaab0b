package fishdbc

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/fishdbc/internal/engine"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter  prometheus.Counter
//	    rescoreLatency prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRescore(candidates, degraded int, duration time.Duration) {
//	    p.rescoreLatency.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordInsert is called after each single insert.
	RecordInsert(duration time.Duration, err error)

	// RecordBatchInsert is called after each batch insert.
	// count is the number of records attempted, failed the number rejected.
	RecordBatchInsert(count, failed int, duration time.Duration)

	// RecordQuery is called after each neighbor index query.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordCycle is called after each insertion cycle of the writer.
	RecordCycle(points int, duration time.Duration, err error)

	// RecordRescore is called after the oracle scored the candidates of one point.
	RecordRescore(candidates, degraded int, duration time.Duration)

	// RecordRebuild is called after each full rebuild of the spanning forest.
	RecordRebuild(duration time.Duration)

	// RecordEmit is called after each emission attempt.
	RecordEmit(count int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatchInsert(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordCycle(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordRescore(int, int, time.Duration)     {}
func (NoopMetricsCollector) RecordRebuild(time.Duration)               {}
func (NoopMetricsCollector) RecordEmit(int, error)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount       atomic.Int64
	InsertErrors      atomic.Int64
	InsertTotalNanos  atomic.Int64
	BatchInsertCount  atomic.Int64
	BatchInsertItems  atomic.Int64
	BatchInsertFailed atomic.Int64
	QueryCount        atomic.Int64
	QueryErrors       atomic.Int64
	QueryTotalNanos   atomic.Int64
	CycleCount        atomic.Int64
	CyclePoints       atomic.Int64
	CycleErrors       atomic.Int64
	RescoreCount      atomic.Int64
	RescoreCandidates atomic.Int64
	RescoreDegraded   atomic.Int64
	RescoreTotalNanos atomic.Int64
	RebuildCount      atomic.Int64
	EmitCount         atomic.Int64
	EmitErrors        atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordBatchInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchInsert(count, failed int, duration time.Duration) {
	b.BatchInsertCount.Add(1)
	b.BatchInsertItems.Add(int64(count))
	b.BatchInsertFailed.Add(int64(failed))
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordCycle implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCycle(points int, duration time.Duration, err error) {
	b.CycleCount.Add(1)
	b.CyclePoints.Add(int64(points))
	if err != nil {
		b.CycleErrors.Add(1)
	}
}

// RecordRescore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRescore(candidates, degraded int, duration time.Duration) {
	b.RescoreCount.Add(1)
	b.RescoreCandidates.Add(int64(candidates))
	b.RescoreDegraded.Add(int64(degraded))
	b.RescoreTotalNanos.Add(duration.Nanoseconds())
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(time.Duration) {
	b.RebuildCount.Add(1)
}

// RecordEmit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmit(count int, err error) {
	if err != nil {
		b.EmitErrors.Add(1)
		return
	}
	b.EmitCount.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:       b.InsertCount.Load(),
		InsertErrors:      b.InsertErrors.Load(),
		InsertAvgNanos:    avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		BatchInsertCount:  b.BatchInsertCount.Load(),
		BatchInsertItems:  b.BatchInsertItems.Load(),
		BatchInsertFailed: b.BatchInsertFailed.Load(),
		QueryCount:        b.QueryCount.Load(),
		QueryErrors:       b.QueryErrors.Load(),
		QueryAvgNanos:     avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		CycleCount:        b.CycleCount.Load(),
		CyclePoints:       b.CyclePoints.Load(),
		CycleErrors:       b.CycleErrors.Load(),
		RescoreCount:      b.RescoreCount.Load(),
		RescoreCandidates: b.RescoreCandidates.Load(),
		RescoreDegraded:   b.RescoreDegraded.Load(),
		RescoreAvgNanos:   avg(b.RescoreTotalNanos.Load(), b.RescoreCount.Load()),
		RebuildCount:      b.RebuildCount.Load(),
		EmitCount:         b.EmitCount.Load(),
		EmitErrors:        b.EmitErrors.Load(),
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
	InsertCount       int64
	InsertErrors      int64
	InsertAvgNanos    int64
	BatchInsertCount  int64
	BatchInsertItems  int64
	BatchInsertFailed int64
	QueryCount        int64
	QueryErrors       int64
	QueryAvgNanos     int64
	CycleCount        int64
	CyclePoints       int64
	CycleErrors       int64
	RescoreCount      int64
	RescoreCandidates int64
	RescoreDegraded   int64
	RescoreAvgNanos   int64
	RebuildCount      int64
	EmitCount         int64
	EmitErrors        int64
}

// observer forwards engine events to a MetricsCollector.
type observer struct {
	mc MetricsCollector
}

var _ engine.MetricsObserver = observer{}

func (o observer) OnCycle(points int, d time.Duration, err error) { o.mc.RecordCycle(points, d, err) }
func (o observer) OnRescore(candidates, degraded int, d time.Duration) {
	o.mc.RecordRescore(candidates, degraded, d)
}
func (o observer) OnRebuild(d time.Duration)   { o.mc.RecordRebuild(d) }
func (o observer) OnEmit(count int, err error) { o.mc.RecordEmit(count, err) }
