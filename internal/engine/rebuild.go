package engine

import (
	"context"
	"errors"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fishdbc/internal/mst"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/snapshot"
)

// rebuild replaces the spanning forest with the minimum spanning forest of
// all reachability edges. Degraded points are rescored first while the
// oracle is available.
func (e *Engine) rebuild(ctx context.Context, reason string) {
	start := time.Now()
	if e.degraded.GetCardinality() > 0 && e.available() {
		e.recompute(ctx)
	}

	edges := e.reach.Edges()
	candidates := make([]mst.Edge, len(edges))
	for i, ed := range edges {
		candidates[i] = mst.Edge{A: ed.A, B: ed.B, Weight: ed.Weight, Degraded: ed.Degraded}
	}
	e.forest.Rebuild(len(e.points), candidates)
	e.touched.Clear()
	e.rebuilds++

	d := time.Since(start)
	e.logger.Info("rebuilt spanning forest",
		"reason", reason,
		"points", len(e.points),
		"edges", e.forest.EdgeCount(),
		"components", e.forest.Components(),
		"rebuilds", e.rebuilds,
		"duration", d,
	)
	e.metrics.OnRebuild(d)
}

// recompute rescores every degraded point and repairs the forest around it.
func (e *Engine) recompute(ctx context.Context) {
	before := e.degraded.GetCardinality()
	if before == 0 {
		return
	}
	tasks := make([]task, 0, before)
	it := e.degraded.Iterator()
	for it.HasNext() {
		tasks = append(tasks, task{h: model.Handle(it.Next())})
	}

	results, err := e.rescore(ctx, tasks)
	if err != nil {
		e.logger.Warn("precise recompute failed", "points", len(tasks), "error", err)
		return
	}

	// Degraded entries held by other points are replaced through Offer.
	changed, lists := roaring.New(), roaring.New()
	for _, s := range results {
		e.apply(s, changed, lists)
	}
	e.repair(changed, lists, roaring.New())
	e.logger.Info("recomputed degraded points", "before", before, "after", e.degraded.GetCardinality())
}

// maintain retries undelivered assignments and degraded points, and
// rebuilds when any point recovered.
func (e *Engine) maintain(ctx context.Context) error {
	e.retry(ctx)

	before := e.degraded.GetCardinality()
	if before == 0 {
		return nil
	}
	e.recompute(ctx)
	if e.degraded.GetCardinality() < before {
		e.rebuild(ctx, "degraded points recovered")
		e.assign(ctx)
	}
	return ctx.Err()
}

// recover handles a broken forest invariant. With a snapshot store and a
// point log the state is restored from the last snapshot plus replay;
// otherwise, or when that fails, the forest is rebuilt in memory.
func (e *Engine) recover(ctx context.Context, cause error) {
	violation := &InvariantViolationError{Reason: cause.Error()}
	e.logger.Error("spanning forest invariant violated", "error", violation, "points", len(e.points))

	if !e.recovering && e.opts.Store != nil && e.opts.PointLog != nil {
		err := e.restore(ctx)
		if err == nil {
			err = e.forest.Verify()
		}
		if err == nil {
			e.logger.Info("recovered from snapshot after invariant violation", "seq", e.applied)
			return
		}
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			e.logger.Error("snapshot recovery failed, rebuilding in memory", "error", err)
		}
	}
	e.rebuild(ctx, "invariant violation")
}
