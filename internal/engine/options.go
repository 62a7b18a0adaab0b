package engine

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/emit"
	"github.com/hupe1980/fishdbc/internal/hnsw"
	"github.com/hupe1980/fishdbc/pointlog"
	"github.com/hupe1980/fishdbc/snapshot"
)

// Options configures the engine.
type Options struct {
	// Dimension is the coarse vector length. Required.
	Dimension int
	// Metric is the coarse metric used by the neighbor index.
	Metric distance.Metric
	// Transform is recorded in snapshots; the oracle applies it.
	Transform distance.Transform

	// M bounds the neighbor index degree.
	M int
	// EF is the neighbor index candidate list size.
	EF int
	// Seed makes index layer assignment reproducible.
	Seed *int64

	// KRescale is the number of candidates sent to the oracle per point.
	KRescale int
	// MinSamples is the core distance neighborhood, counting the point itself.
	// Zero means MinClusterSize.
	MinSamples int
	// MinClusterSize is the smallest subtree that forms a cluster.
	MinClusterSize int
	// AllowSingleCluster permits one cluster spanning all clustered points.
	AllowSingleCluster bool

	// RebuildThreshold is the fraction of points touched since the last full
	// rebuild above which the forest is rebuilt from scratch.
	RebuildThreshold float64
	// MaxBatch bounds the records processed in one cycle.
	MaxBatch int
	// Workers bounds concurrent candidate searches and rescoring calls.
	Workers int
	// MaintenanceInterval schedules precise recompute passes for degraded
	// points. Zero disables the timer.
	MaintenanceInterval time.Duration

	// PointLog receives every accepted record before it is processed.
	PointLog *pointlog.Log
	// Store holds snapshots.
	Store blobstore.BlobStore
	// SnapshotEvery writes a snapshot every n cycles (0 = manual only).
	SnapshotEvery int
	// SnapshotRetain keeps the newest n snapshots (0 = keep all).
	SnapshotRetain int
	// Compression is the snapshot payload compression.
	Compression snapshot.Compression

	// Emitter receives changed assignments.
	Emitter emit.Emitter
	Logger  *slog.Logger
	Metrics MetricsObserver
}

// DefaultOptions contains the default engine options.
var DefaultOptions = Options{
	Metric:             distance.MetricCosine,
	Transform:          distance.Reciprocal,
	M:                  hnsw.DefaultM,
	EF:                 hnsw.DefaultEF,
	KRescale:           32,
	MinClusterSize:     5,
	AllowSingleCluster: true,
	RebuildThreshold:   0.3,
	MaxBatch:           256,
	Compression:        snapshot.CompressionZstd,
	SnapshotRetain:     3,
}

func (o *Options) normalize() {
	o.MinClusterSize = max(o.MinClusterSize, 2)
	if o.MinSamples <= 0 {
		o.MinSamples = o.MinClusterSize
	}
	o.KRescale = max(o.KRescale, o.MinSamples-1, 1)
	if o.M <= 0 {
		o.M = hnsw.DefaultM
	}
	if o.EF <= 0 {
		o.EF = hnsw.DefaultEF
	}
	if o.RebuildThreshold <= 0 {
		o.RebuildThreshold = DefaultOptions.RebuildThreshold
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = DefaultOptions.MaxBatch
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Emitter == nil {
		o.Emitter = emit.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetricsObserver{}
	}
}

// MetricsObserver observes engine events.
type MetricsObserver interface {
	// OnCycle is called after each insertion cycle.
	OnCycle(points int, duration time.Duration, err error)

	// OnRescore is called after the oracle scored the candidates of one point.
	OnRescore(candidates, degraded int, duration time.Duration)

	// OnRebuild is called after a full rebuild of the spanning forest.
	OnRebuild(duration time.Duration)

	// OnEmit is called after each emission attempt.
	OnEmit(count int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnCycle(int, time.Duration, error) {}
func (NoopMetricsObserver) OnRescore(int, int, time.Duration) {}
func (NoopMetricsObserver) OnRebuild(time.Duration)           {}
func (NoopMetricsObserver) OnEmit(int, error)                 {}
