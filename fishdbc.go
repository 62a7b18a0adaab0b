package fishdbc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/internal/engine"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/pointlog"
)

// DB is an incremental density-based clustering database.
//
// Inserts are sequenced and processed by a single writer; reads are served
// from the last committed view and never block it.
type DB struct {
	engine  *engine.Engine
	oracle  oracle.Oracle
	opts    options
	log     *pointlog.Log
	ownsLog bool
	metrics MetricsCollector
	logger  *Logger

	available atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open creates a DB for coarse vectors of the given dimension. Precise
// distances come from scorer, wrapped in a two-tier oracle with timeout,
// concurrency bound and circuit breaker; WithOracle replaces it entirely.
//
// With a point log (WithDir or WithPointLog) Open replays the log, or, with
// WithRestore, resumes from the newest snapshot and replays what follows it.
func Open(ctx context.Context, dimension int, scorer oracle.PreciseScorer, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	if dimension <= 0 {
		return nil, &ErrDimensionMismatch{Expected: 1, Actual: dimension}
	}

	orc := opts.oracle
	if orc == nil {
		if scorer == nil {
			return nil, ErrNoOracle
		}
		tt, err := oracle.NewTwoTier(scorer, func(o *oracle.Options) {
			o.Metric = opts.metric
			o.Transform = opts.transform
			o.Timeout = opts.rescoreTimeout
			o.MaxConcurrent = opts.maxConcurrent
			o.RateLimit = opts.rateLimit
			o.UnavailableAfter = opts.unavailableAfter
			o.ProbeInterval = opts.probeInterval
			o.Logger = opts.logger.Logger
		})
		if err != nil {
			return nil, err
		}
		orc = tt
	}

	db := &DB{
		oracle:  orc,
		opts:    opts,
		log:     opts.pointLog,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}

	store := opts.store
	if opts.dir != "" {
		if db.log == nil {
			log, err := pointlog.Open(pointlog.Options{Dir: filepath.Join(opts.dir, "log"), Logger: opts.logger.Logger})
			if err != nil {
				return nil, fmt.Errorf("fishdbc: open point log: %w", err)
			}
			db.log, db.ownsLog = log, true
		}
		if store == nil {
			store = blobstore.NewLocalStore(filepath.Join(opts.dir, "snapshots"))
		}
	}

	eng, err := engine.New(orc, func(o *engine.Options) {
		o.Dimension = dimension
		o.Metric = opts.metric
		o.Transform = opts.transform
		o.M = opts.m
		o.EF = opts.ef
		o.Seed = opts.seed
		o.KRescale = opts.kRescale
		o.MinSamples = opts.minSamples
		o.MinClusterSize = opts.minClusterSize
		o.AllowSingleCluster = opts.allowSingleCluster
		o.RebuildThreshold = opts.rebuildThreshold
		o.MaxBatch = opts.maxBatch
		o.Workers = opts.workers
		o.MaintenanceInterval = opts.maintenance
		o.PointLog = db.log
		o.Store = store
		o.SnapshotEvery = opts.snapshotEvery
		o.SnapshotRetain = opts.snapshotRetain
		o.Compression = opts.compression
		o.Emitter = opts.emitter
		o.Logger = opts.logger.Logger
		o.Metrics = observer{mc: opts.metricsCollector}
	})
	if err != nil {
		db.closeLog()
		return nil, translateError(err)
	}
	db.engine = eng
	db.available.Store(eng.Health().OracleAvailable)

	if err := db.recover(ctx); err != nil {
		_ = eng.Close()
		db.closeLog()
		return nil, err
	}
	return db, nil
}

func (db *DB) recover(ctx context.Context) error {
	if db.opts.restore {
		err := db.engine.Restore(ctx)
		if err == nil {
			db.logger.LogRecovery(ctx, "snapshot", db.engine.View().Seq, nil)
			return nil
		}
		if !errors.Is(err, ErrNoSnapshot) {
			db.logger.LogRecovery(ctx, "snapshot", 0, err)
			return translateError(err)
		}
	}
	if db.log == nil || db.log.LastSeq() == 0 {
		return nil
	}
	err := db.engine.RebuildFromLog(ctx)
	db.logger.LogRecovery(ctx, "point log", db.engine.View().Seq, err)
	return translateError(err)
}

// Insert adds or replaces one point and returns its insertion sequence once
// the point is assigned.
func (db *DB) Insert(ctx context.Context, rec model.Record) (uint64, error) {
	start := time.Now()
	ack, err := db.engine.Insert(ctx, []model.Record{rec})
	if err == nil && ack.Errors[0] != nil {
		err = ack.Errors[0]
		db.logger.LogRejected(ctx, rec.ID, err)
	}
	err = translateError(err)
	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, rec.ID, ack.Seqs[0], err)
	if err != nil {
		return 0, err
	}
	db.checkDegraded(ctx, rec.ID)
	return ack.Seqs[0], nil
}

// BatchInsertResult reports the outcome of BatchInsert per record.
type BatchInsertResult struct {
	// Seqs holds the insertion sequence per record, 0 for rejected records.
	Seqs []uint64
	// Errors holds a *MalformedInputError per rejected record.
	Errors []error
	// Accepted is the number of records inserted.
	Accepted int
}

// BatchInsert adds or replaces points in one insertion cycle. Malformed
// records are rejected individually and never fail the batch. The returned
// error is set only when the batch as a whole could not be processed.
func (db *DB) BatchInsert(ctx context.Context, recs []model.Record) (BatchInsertResult, error) {
	start := time.Now()
	ack, err := db.engine.Insert(ctx, recs)
	if err != nil {
		return BatchInsertResult{}, translateError(err)
	}
	res := BatchInsertResult{Seqs: ack.Seqs, Errors: make([]error, len(recs)), Accepted: ack.Accepted}
	for i, e := range ack.Errors {
		if e != nil {
			res.Errors[i] = translateError(e)
			db.logger.LogRejected(ctx, recs[i].ID, res.Errors[i])
			continue
		}
		db.checkDegraded(ctx, recs[i].ID)
	}
	failed := len(recs) - ack.Accepted
	db.metrics.RecordBatchInsert(len(recs), failed, time.Since(start))
	db.logger.LogBatchInsert(ctx, len(recs), failed)
	return res, nil
}

func (db *DB) checkDegraded(ctx context.Context, id string) {
	if a, ok := db.engine.Assignment(id); ok && a.Degraded {
		db.logger.LogDegraded(ctx, id, a.Seq)
	}
	db.Health()
}

// Query returns the k approximate coarse nearest neighbors of vector from
// the last committed neighbor index.
func (db *DB) Query(ctx context.Context, vector []float32, k int) ([]model.Neighbor, error) {
	start := time.Now()
	res, err := db.query(ctx, vector, k)
	db.metrics.RecordQuery(k, time.Since(start), err)
	db.logger.LogQuery(ctx, k, len(res), err)
	return res, err
}

func (db *DB) query(ctx context.Context, vector []float32, k int) ([]model.Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if dim := db.engine.Options().Dimension; len(vector) != dim {
		return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(vector)}
	}
	res, err := db.engine.Search(ctx, vector, k)
	return res, translateError(err)
}

// Assignment returns the committed assignment of a point.
func (db *DB) Assignment(id string) (model.Assignment, error) {
	a, ok := db.engine.Assignment(id)
	if !ok {
		return model.Assignment{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return a, nil
}

// Assignments returns all committed assignments ordered by point ID.
func (db *DB) Assignments() []model.Assignment {
	v := db.engine.View()
	out := make([]model.Assignment, 0, len(v.Assignments))
	for _, a := range v.Assignments {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.Assignment) int { return strings.Compare(a.PointID, b.PointID) })
	return out
}

// Clusters returns the committed flat clustering ordered by cluster ID.
func (db *DB) Clusters() []model.Cluster {
	return slices.Clone(db.engine.View().Clusters)
}

// Dendrogram returns the committed merge events ordered by distance.
func (db *DB) Dendrogram() []model.Merge {
	return slices.Clone(db.engine.View().Dendrogram)
}

// Neighbors returns the precise neighbor list of a point and its core
// distance.
func (db *DB) Neighbors(ctx context.Context, id string) ([]model.Neighbor, float64, error) {
	n, core, err := db.engine.Neighbors(ctx, id)
	return n, core, translateError(err)
}

// State returns the processing state of a point.
func (db *DB) State(ctx context.Context, id string) (model.PointState, error) {
	st, err := db.engine.State(ctx, id)
	return st, translateError(err)
}

// Health returns a point-in-time health summary. Changes of oracle
// availability are logged.
func (db *DB) Health() model.Health {
	h := db.engine.Health()
	if db.available.Swap(h.OracleAvailable) != h.OracleAvailable {
		db.logger.LogOracleHealth(context.Background(), h.OracleAvailable, h.DegradedPoints)
	}
	return h
}

// OracleStats returns the counters of the built-in two-tier oracle, or
// false when WithOracle replaced it.
func (db *DB) OracleStats() (oracle.Stats, bool) {
	tt, ok := db.oracle.(*oracle.TwoTier)
	if !ok {
		return oracle.Stats{}, false
	}
	return tt.Stats(), true
}

// Snapshot writes the committed state to the blob store and returns the
// snapshot name.
func (db *DB) Snapshot(ctx context.Context) (string, error) {
	name, err := db.engine.Snapshot(ctx)
	err = translateError(err)
	db.logger.LogSnapshot(ctx, name, err)
	return name, err
}

// Restore replaces the state with the newest snapshot and replays the point
// log from it. A corrupt snapshot fails with ErrSnapshotCorrupt and leaves
// the state unchanged.
func (db *DB) Restore(ctx context.Context) error {
	err := translateError(db.engine.Restore(ctx))
	db.logger.LogRecovery(ctx, "snapshot", db.engine.View().Seq, err)
	return err
}

// RebuildFromLog discards all state and reprocesses the full point log.
func (db *DB) RebuildFromLog(ctx context.Context) error {
	if db.log == nil {
		return ErrNoPointLog
	}
	err := translateError(db.engine.RebuildFromLog(ctx))
	db.logger.LogRecovery(ctx, "point log", db.engine.View().Seq, err)
	return err
}

// Rebuild forces a full rebuild of the spanning forest.
func (db *DB) Rebuild(ctx context.Context) error {
	err := translateError(db.engine.Rebuild(ctx))
	db.logger.LogRebuild(ctx, db.engine.View().Rebuilds, err)
	return err
}

// Recompute rescores degraded points with the precise metric.
func (db *DB) Recompute(ctx context.Context) error {
	return translateError(db.engine.Recompute(ctx))
}

// Verify checks the structural invariants of the spanning forest.
func (db *DB) Verify(ctx context.Context) error {
	err := translateError(db.engine.Verify(ctx))
	if errors.Is(err, ErrInvariantViolation) {
		db.logger.LogInvariantViolation(ctx, err)
	}
	return err
}

// Close processes queued inserts, makes a last attempt to deliver pending
// assignments, stops the writer and closes the emitter and the point log
// opened by Open.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = errors.Join(
			translateError(db.engine.Close()),
			db.opts.emitter.Close(),
			db.closeLog(),
		)
	})
	return db.closeErr
}

func (db *DB) closeLog() error {
	if db.ownsLog && db.log != nil {
		return db.log.Close()
	}
	return nil
}
