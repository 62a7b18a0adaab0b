package fishdbc

import (
	"log/slog"
	"time"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/emit"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/pointlog"
	"github.com/hupe1980/fishdbc/snapshot"
)

type options struct {
	metric    distance.Metric
	transform distance.Transform
	m, ef     int
	seed      *int64

	kRescale           int
	minSamples         int
	minClusterSize     int
	allowSingleCluster bool
	rebuildThreshold   float64
	maxBatch           int
	workers            int
	maintenance        time.Duration

	rescoreTimeout   time.Duration
	maxConcurrent    int64
	rateLimit        float64
	unavailableAfter int
	probeInterval    time.Duration
	oracle           oracle.Oracle

	dir            string
	pointLog       *pointlog.Log
	store          blobstore.BlobStore
	snapshotEvery  int
	snapshotRetain int
	compression    snapshot.Compression
	restore        bool

	emitter          emit.Emitter
	metricsCollector MetricsCollector
	logger           *Logger
}

func defaultOptions() options {
	return options{
		metric:             distance.MetricCosine,
		transform:          distance.Reciprocal,
		kRescale:           32,
		minClusterSize:     5,
		allowSingleCluster: true,
		rebuildThreshold:   0.3,
		rescoreTimeout:     oracle.DefaultOptions.Timeout,
		maxConcurrent:      oracle.DefaultOptions.MaxConcurrent,
		unavailableAfter:   oracle.DefaultOptions.UnavailableAfter,
		probeInterval:      oracle.DefaultOptions.ProbeInterval,
		snapshotRetain:     3,
		compression:        snapshot.CompressionZstd,
	}
}

// Option configures Open.
type Option func(*options)

// WithMetric sets the coarse metric used for candidate shortlisting.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithTransform sets the mapping from precise similarity to distance.
// The default is distance.Reciprocal, 1/(1+s).
func WithTransform(t distance.Transform) Option {
	return func(o *options) {
		o.transform = t
	}
}

// WithIndex configures the neighbor index degree bound m and its candidate
// list size ef. Non-positive values keep the defaults.
func WithIndex(m, ef int) Option {
	return func(o *options) {
		o.m = m
		o.ef = ef
	}
}

// WithSeed makes neighbor index construction reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = &seed
	}
}

// WithKRescale sets the number of candidates sent to the precise rescorer
// per point.
func WithKRescale(k int) Option {
	return func(o *options) {
		o.kRescale = k
	}
}

// WithMinClusterSize sets the minimum cluster size of the condensation.
func WithMinClusterSize(n int) Option {
	return func(o *options) {
		o.minClusterSize = n
	}
}

// WithMinSamples sets the core distance neighborhood, counting the point
// itself. It defaults to the minimum cluster size.
func WithMinSamples(n int) Option {
	return func(o *options) {
		o.minSamples = n
	}
}

// WithAllowSingleCluster controls whether one cluster spanning all clustered
// points may be selected.
func WithAllowSingleCluster(allow bool) Option {
	return func(o *options) {
		o.allowSingleCluster = allow
	}
}

// WithRebuildThreshold sets the fraction of points touched since the last
// full rebuild above which the spanning forest is rebuilt from scratch.
func WithRebuildThreshold(fraction float64) Option {
	return func(o *options) {
		o.rebuildThreshold = fraction
	}
}

// WithBatching bounds the records processed per insertion cycle and the
// number of points searched and rescored in parallel.
func WithBatching(maxBatch, workers int) Option {
	return func(o *options) {
		o.maxBatch = maxBatch
		o.workers = workers
	}
}

// WithMaintenanceInterval schedules precise recompute passes for degraded
// points.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(o *options) {
		o.maintenance = d
	}
}

// WithRescoreTimeout bounds one precise rescoring call. On timeout the
// coarse fallback distance is used and the point is marked degraded.
func WithRescoreTimeout(d time.Duration) Option {
	return func(o *options) {
		o.rescoreTimeout = d
	}
}

// WithRescoreLimits bounds concurrent precise calls and their rate per
// second (0 = unlimited).
func WithRescoreLimits(maxConcurrent int64, perSecond float64) Option {
	return func(o *options) {
		o.maxConcurrent = maxConcurrent
		o.rateLimit = perSecond
	}
}

// WithUnavailableAfter sets the number of consecutive precise failures that
// switch to coarse-only mode and the pause between availability probes.
func WithUnavailableAfter(failures int, probe time.Duration) Option {
	return func(o *options) {
		o.unavailableAfter = failures
		o.probeInterval = probe
	}
}

// WithOracle replaces the two-tier oracle built from the precise scorer.
func WithOracle(orc oracle.Oracle) Option {
	return func(o *options) {
		o.oracle = orc
	}
}

// WithDir stores the point log and local snapshots below dir.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithPointLog uses an already opened point log. The DB does not close it.
func WithPointLog(log *pointlog.Log) Option {
	return func(o *options) {
		o.pointLog = log
	}
}

// WithBlobStore stores snapshots in st, e.g. an S3 or MinIO store.
func WithBlobStore(st blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithSnapshots writes a snapshot every n insertion cycles and keeps the
// newest retain snapshots. n = 0 disables periodic snapshots.
func WithSnapshots(every, retain int) Option {
	return func(o *options) {
		o.snapshotEvery = every
		o.snapshotRetain = retain
	}
}

// WithCompression sets the snapshot payload compression.
func WithCompression(c snapshot.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithRestore resumes from the newest snapshot on Open and replays the point
// log from its sequence. A corrupt snapshot makes Open fail with
// ErrSnapshotCorrupt.
func WithRestore() Option {
	return func(o *options) {
		o.restore = true
	}
}

// WithEmitter sets the assignment emitter. The DB closes it on Close.
func WithEmitter(e emit.Emitter) Option {
	return func(o *options) {
		o.emitter = e
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel sets a text logger at the given level.
func WithLogLevel(level slog.Level) Option {
	return WithLogger(NewTextLogger(level))
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.emitter == nil {
		o.emitter = emit.Discard
	}
	return o
}
