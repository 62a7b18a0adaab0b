package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/snapshot"
)

// Snapshot writes the committed state to the blob store and returns the
// snapshot name.
func (e *Engine) Snapshot(ctx context.Context) (string, error) {
	var name string
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		name, err = e.snapshot(ctx)
		return err
	})
	return name, err
}

// Restore replaces the state with the newest snapshot and replays the point
// log from the snapshot's sequence. A corrupt snapshot fails closed with
// snapshot.ErrSnapshotCorrupt; when it cannot be decoded at all the current
// state is kept.
func (e *Engine) Restore(ctx context.Context) error {
	return e.do(ctx, e.restore)
}

// RebuildFromLog discards all state and reprocesses the full point log.
func (e *Engine) RebuildFromLog(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		if e.opts.PointLog == nil {
			return fmt.Errorf("engine: rebuild from log: no point log configured")
		}
		e.reset()
		clear(e.flushed)
		return e.replay(ctx, 0)
	})
}

func (e *Engine) state() (*snapshot.State, error) {
	touched, err := e.touched.ToBytes()
	if err != nil {
		return nil, err
	}
	degraded, err := e.degraded.ToBytes()
	if err != nil {
		return nil, err
	}

	points := make([]snapshot.Point, len(e.points))
	for h, p := range e.points {
		points[h] = snapshot.Point{ID: p.id, Ref: p.ref, Seq: p.seq, First: p.first, Coarse: p.coarse}
	}
	emitted := make([]model.Assignment, 0, len(e.flushed))
	for _, a := range e.flushed {
		emitted = append(emitted, a)
	}
	slices.SortFunc(emitted, func(a, b model.Assignment) int { return strings.Compare(a.PointID, b.PointID) })

	return &snapshot.State{
		CreatedAt:  time.Now().UnixNano(),
		Config:     e.config(),
		Seq:        e.applied,
		Cycles:     e.cycles,
		Rebuilds:   e.rebuilds,
		Points:     points,
		Index:      e.index.Export(),
		Reach:      e.reach.Export(),
		Forest:     e.forest.Edges(),
		Dendrogram: e.merges,
		Emitted:    emitted,
		Touched:    touched,
		Degraded:   degraded,
	}, nil
}

func (e *Engine) config() snapshot.Config {
	return snapshot.Config{
		Dimension:      e.opts.Dimension,
		Metric:         e.opts.Metric.String(),
		M:              e.opts.M,
		EF:             e.opts.EF,
		KRescale:       e.opts.KRescale,
		MinSamples:     e.opts.MinSamples,
		MinClusterSize: e.opts.MinClusterSize,
		Transform:      e.opts.Transform.String(),
		Rebuild:        e.opts.RebuildThreshold,
	}
}

func (e *Engine) snapshot(ctx context.Context) (string, error) {
	if e.opts.Store == nil {
		return "", ErrNoStore
	}
	start := time.Now()
	st, err := e.state()
	if err != nil {
		return "", err
	}
	name, err := snapshot.Write(ctx, e.opts.Store, st, e.opts.Compression)
	if err != nil {
		return "", err
	}
	e.logger.Info("wrote snapshot", "name", name, "seq", st.Seq, "points", len(st.Points), "duration", time.Since(start))

	if e.opts.SnapshotRetain > 0 {
		if _, err := snapshot.Prune(ctx, e.opts.Store, e.opts.SnapshotRetain); err != nil {
			e.logger.Warn("pruning snapshots failed", "error", err)
		}
	}
	return name, nil
}

func (e *Engine) restore(ctx context.Context) error {
	if e.opts.Store == nil {
		return ErrNoStore
	}
	name, err := snapshot.Latest(ctx, e.opts.Store)
	if err != nil {
		return err
	}
	st, _, err := snapshot.Load(ctx, e.opts.Store, name)
	if err != nil {
		e.logger.Error("refusing to resume from snapshot", "name", name, "error", err)
		return err
	}
	if err := e.load(st); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	e.logger.Info("loaded snapshot", "name", name, "seq", st.Seq, "points", len(st.Points))
	return e.replay(ctx, st.Seq)
}

// load installs a decoded snapshot.
func (e *Engine) load(st *snapshot.State) error {
	want := e.config()
	if st.Config.Dimension != want.Dimension || st.Config.Metric != want.Metric {
		return fmt.Errorf("%w: snapshot has dimension %d metric %s, engine has dimension %d metric %s",
			ErrConfigMismatch, st.Config.Dimension, st.Config.Metric, want.Dimension, want.Metric)
	}

	touched, degraded := roaring.New(), roaring.New()
	if len(st.Touched) > 0 {
		if err := touched.UnmarshalBinary(st.Touched); err != nil {
			return fmt.Errorf("%w: touched set: %v", snapshot.ErrSnapshotCorrupt, err)
		}
	}
	if len(st.Degraded) > 0 {
		if err := degraded.UnmarshalBinary(st.Degraded); err != nil {
			return fmt.Errorf("%w: degraded set: %v", snapshot.ErrSnapshotCorrupt, err)
		}
	}

	e.reset()
	if err := e.index.Import(st.Index); err != nil {
		e.reset()
		return fmt.Errorf("%w: index: %v", snapshot.ErrSnapshotCorrupt, err)
	}
	n := len(st.Points)
	e.forest.Load(n, st.Forest)
	if err := e.forest.Verify(); err != nil {
		e.reset()
		return fmt.Errorf("%w: forest: %v", snapshot.ErrSnapshotCorrupt, err)
	}
	e.reach.Import(st.Reach)

	e.points = make([]point, n)
	e.ids = make([]string, n)
	for h, p := range st.Points {
		state := model.StateAssigned
		if len(e.reach.Neighbors(model.Handle(h))) == 0 {
			state = model.StateIndexed
		}
		e.points[h] = point{id: p.ID, ref: p.Ref, coarse: p.Coarse, seq: p.Seq, first: p.First, state: state}
		e.handles[p.ID] = model.Handle(h)
		e.ids[h] = p.ID
	}
	e.touched, e.degraded = touched, degraded
	e.merges = st.Dendrogram
	e.applied = st.Seq
	e.cycles = st.Cycles
	e.rebuilds = st.Rebuilds
	e.flushed = make(map[string]model.Assignment, len(st.Emitted))
	for _, a := range st.Emitted {
		e.flushed[a.PointID] = a
	}

	e.mu.Lock()
	e.seq = max(e.seq, st.Seq)
	e.mu.Unlock()
	return nil
}

// replay processes logged records above after in batches and commits the
// resulting clustering.
func (e *Engine) replay(ctx context.Context, after uint64) error {
	e.recovering = true
	defer func() { e.recovering = false }()

	records := 0
	if log := e.opts.PointLog; log != nil {
		var batch []model.SequencedRecord
		err := log.Replay(ctx, after, func(r model.SequencedRecord) error {
			batch = append(batch, r)
			records++
			if len(batch) < e.opts.MaxBatch {
				return nil
			}
			err := e.cycle(ctx, batch)
			batch = nil
			return err
		})
		if err == nil && len(batch) > 0 {
			err = e.cycle(ctx, batch)
		}
		if err != nil {
			return fmt.Errorf("engine: replay point log: %w", err)
		}
	}
	if records == 0 {
		e.assign(ctx)
	}
	e.logger.Info("replayed point log", "after", after, "records", records, "seq", e.applied)
	return nil
}
