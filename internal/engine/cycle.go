package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/internal/mst"
	"github.com/hupe1980/fishdbc/internal/reach"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/oracle"
)

// task asks for a fresh candidate set of h. A non-zero seq ties the task to
// an insertion that newer re-insertions of the same point may supersede.
type task struct {
	h   model.Handle
	seq uint64
}

type scored struct {
	h          model.Handle
	entries    []reach.Entry
	superseded bool
}

// cycle runs one batch through the pipeline: index, rescore, reachability,
// forest repair, condensation and emission.
func (e *Engine) cycle(ctx context.Context, recs []model.SequencedRecord) (err error) {
	start := time.Now()
	defer func() { e.metrics.OnCycle(len(recs), time.Since(start), err) }()

	tasks, reinserted, err := e.insert(ctx, dedupe(recs))
	if err != nil {
		return err
	}

	results, err := e.rescore(ctx, tasks)
	if err != nil {
		return err
	}

	changed := roaring.New() // core distance changed
	lists := roaring.New()   // neighbor list changed
	loose := roaring.New()   // lost a forest edge
	var refill []task
	for _, s := range results {
		if s.superseded {
			e.logger.Debug("discarded superseded rescoring", "id", e.points[s.h].id)
			continue
		}
		if reinserted.Contains(uint32(s.h)) {
			for _, q := range e.detach(s.h, changed, lists, loose) {
				refill = append(refill, task{h: q})
			}
		}
		e.apply(s, changed, lists)
	}

	// Lists that fell below k after a re-insertion draw new candidates.
	if len(refill) > 0 {
		more, err := e.rescore(ctx, refill)
		if err != nil {
			return err
		}
		for _, s := range more {
			e.apply(s, changed, lists)
		}
	}

	e.repair(changed, lists, loose)

	processed := make(map[string]uint64, len(tasks))
	for _, t := range tasks {
		processed[e.points[t.h].id] = t.seq
	}
	e.settle(ctx)

	e.mu.Lock()
	for id, seq := range processed {
		if e.latest[id] == seq {
			delete(e.latest, id)
		}
	}
	e.mu.Unlock()
	return nil
}

// dedupe keeps the last version of every point, in sequence order.
func dedupe(recs []model.SequencedRecord) []model.SequencedRecord {
	last := make(map[string]int, len(recs))
	for i, r := range recs {
		last[r.Record.ID] = i
	}
	if len(last) == len(recs) {
		return recs
	}
	out := make([]model.SequencedRecord, 0, len(last))
	for i, r := range recs {
		if last[r.Record.ID] == i {
			out = append(out, r)
		}
	}
	return out
}

// insert adds the records into the neighbor index and publishes it.
// Records superseded by a queued re-insertion, or older than the current
// version of the point, are skipped.
func (e *Engine) insert(ctx context.Context, recs []model.SequencedRecord) ([]task, *roaring.Bitmap, error) {
	tasks := make([]task, 0, len(recs))
	reinserted := roaring.New()

	for _, r := range recs {
		id := r.Record.ID
		if e.superseded(id, r.Seq) {
			continue
		}
		h, known := e.handles[id]
		if known && r.Seq <= e.points[h].seq {
			continue
		}
		if !known {
			h = model.Handle(len(e.points))
			e.handles[id] = h
			e.points = append(e.points, point{id: id, first: r.Seq})
			e.ids = append(e.ids, id)
		} else if e.points[h].state >= model.StateReachabilityCurrent {
			reinserted.Add(uint32(h))
		}

		p := &e.points[h]
		p.ref, p.coarse, p.seq, p.state = r.Record.PreciseRef, r.Record.Coarse, r.Seq, model.StatePending
		if err := e.index.Insert(ctx, h, p.coarse); err != nil {
			return nil, nil, fmt.Errorf("engine: index %q: %w", id, err)
		}
		p.state = model.StateIndexed
		e.applied = max(e.applied, r.Seq)
		tasks = append(tasks, task{h: h, seq: r.Seq})
	}

	e.index.Commit()
	e.forest.Grow(len(e.points))
	return tasks, reinserted, nil
}

func (e *Engine) superseded(id string, seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest[id] > seq
}

// track registers an in-flight rescoring so that a newer insertion of the
// same point can cancel it.
func (e *Engine) track(ctx context.Context, t task) (context.Context, func()) {
	if t.seq == 0 {
		return ctx, func() {}
	}
	id := e.points[t.h].id
	pctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.latest[id] > t.seq {
		cancel()
	} else {
		e.inflight[id] = flight{seq: t.seq, cancel: cancel}
	}
	e.mu.Unlock()

	return pctx, func() {
		e.mu.Lock()
		if f, ok := e.inflight[id]; ok && f.seq == t.seq {
			delete(e.inflight, id)
		}
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) oraclePoint(h model.Handle) oracle.Point {
	p := &e.points[h]
	return oracle.Point{ID: p.id, Coarse: p.coarse, PreciseRef: p.ref}
}

// rescore draws candidates from the committed index and scores them with
// the oracle, in parallel across tasks. Writer state is only read here.
func (e *Engine) rescore(ctx context.Context, tasks []task) ([]scored, error) {
	out := make([]scored, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, t := range tasks {
		out[i].h = t.h
		query := e.oraclePoint(t.h)

		g.Go(func() error {
			res, err := e.index.Search(gctx, query.Coarse, e.opts.KRescale+1, 0)
			if err != nil {
				return fmt.Errorf("engine: search candidates of %q: %w", query.ID, err)
			}
			handles := make([]model.Handle, 0, len(res))
			candidates := make([]oracle.Point, 0, len(res))
			for _, r := range res {
				if r.ID == t.h || int(r.ID) >= len(e.points) || len(candidates) == e.opts.KRescale {
					continue
				}
				handles = append(handles, r.ID)
				candidates = append(candidates, e.oraclePoint(r.ID))
			}

			pctx, done := e.track(gctx, t)
			defer done()

			start := time.Now()
			scores, err := e.oracle.RescoreCandidates(pctx, query, candidates)
			if pctx.Err() != nil && gctx.Err() == nil {
				out[i].superseded = true
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return fmt.Errorf("engine: rescore %q: %w", query.ID, err)
				}
				// Unscored candidates fall back to coarse distances and the
				// point is retried by the next recompute pass.
				e.logger.Warn("rescoring failed, using coarse distances", "id", query.ID, "error", err)
				scores = nil
			}

			entries := make([]reach.Entry, len(candidates))
			degraded := 0
			for j, c := range candidates {
				s, ok := scores[c.ID]
				if !ok {
					s = oracle.Score{Distance: distance.CoarseFallback(e.oracle.CoarseDistance(query, c)), Degraded: true}
				}
				if s.Degraded {
					degraded++
				}
				entries[j] = reach.Entry{ID: handles[j], Distance: s.Distance, Degraded: s.Degraded}
			}
			e.metrics.OnRescore(len(candidates), degraded, time.Since(start))
			out[i].entries = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// detach removes the stale neighborhood of a re-inserted point. It returns
// the points whose lists dropped below k.
func (e *Engine) detach(h model.Handle, changed, lists, loose *roaring.Bitmap) []model.Handle {
	for _, q := range e.reach.Referrers(h) {
		lists.Add(uint32(q))
	}
	var refill []model.Handle
	for _, q := range e.reach.Detach(h) {
		changed.Add(uint32(q))
		if len(e.reach.Neighbors(q)) < e.reach.K() {
			refill = append(refill, q)
		}
	}
	for _, ed := range e.forest.RemoveEdgesOf(h) {
		loose.Add(uint32(ed.A))
		loose.Add(uint32(ed.B))
	}
	return refill
}

// apply merges fresh scores into the neighbor list of s.h and offers s.h to
// each scored candidate. Precise entries of the old list that were not
// rescored are kept.
func (e *Engine) apply(s scored, changed, lists *roaring.Bitmap) {
	entries := slices.Clone(s.entries)
	for _, old := range e.reach.Neighbors(s.h) {
		if old.Degraded || slices.ContainsFunc(s.entries, func(x reach.Entry) bool { return x.ID == old.ID }) {
			continue
		}
		entries = append(entries, old)
	}

	e.reach.Set(s.h, entries)
	changed.Add(uint32(s.h))
	lists.Add(uint32(s.h))
	for _, en := range s.entries {
		lists.Add(uint32(en.ID))
		if e.reach.Offer(en.ID, reach.Entry{ID: s.h, Distance: en.Distance, Degraded: en.Degraded}) {
			changed.Add(uint32(en.ID))
		}
	}
	if e.points[s.h].state < model.StateReachabilityCurrent {
		e.points[s.h].state = model.StateReachabilityCurrent
	}
}

// repair updates the spanning forest around the changed points: edges of
// points whose core distance moved are reweighted, then every reachability
// edge touching a changed or disconnected point is proposed under the cut
// property.
func (e *Engine) repair(changed, lists, loose *roaring.Bitmap) {
	it := changed.Iterator()
	for it.HasNext() {
		e.forest.Reweight(model.Handle(it.Next()), e.weight)
	}

	dirty := roaring.Or(changed, lists)
	dirty.Or(loose)
	it = dirty.Iterator()
	for it.HasNext() {
		h := model.Handle(it.Next())
		for _, ed := range e.reach.EdgesOf(h) {
			e.forest.Propose(mst.Edge{A: ed.A, B: ed.B, Weight: ed.Weight, Degraded: ed.Degraded})
		}
		if e.reach.Degraded(h) {
			e.degraded.Add(uint32(h))
		} else {
			e.degraded.Remove(uint32(h))
		}
	}
	e.touched.Or(dirty)
}

// weight recomputes the mutual reachability of a forest edge from the raw
// distance known to either endpoint.
func (e *Engine) weight(a, b model.Handle, old float64) float64 {
	d, ok := e.rawDistance(a, b)
	if !ok {
		return max(old, e.reach.Core(a), e.reach.Core(b))
	}
	return e.reach.MutualReachability(a, b, d)
}

func (e *Engine) rawDistance(a, b model.Handle) (float64, bool) {
	best, found := 0.0, false
	for _, pair := range [2][2]model.Handle{{a, b}, {b, a}} {
		for _, en := range e.reach.Neighbors(pair[0]) {
			if en.ID == pair[1] && (!found || en.Distance < best) {
				best, found = en.Distance, true
			}
		}
	}
	return best, found
}

// settle checks the forest, rebuilds it when the policy asks for it and
// commits the resulting clustering.
func (e *Engine) settle(ctx context.Context) {
	if healthy := e.available(); healthy != e.healthy {
		e.healthy = healthy
		if healthy {
			e.logger.Info("oracle available again", "degraded_points", e.degraded.GetCardinality())
			if e.degraded.GetCardinality() > 0 {
				e.recompute(ctx)
				e.rebuild(ctx, "oracle recovered")
			}
		} else {
			e.logger.Warn("oracle unavailable, new points use coarse distances")
		}
	}

	if err := e.forest.Verify(); err != nil {
		e.recover(ctx, err)
	} else if n := len(e.points); n > 0 && float64(e.touched.GetCardinality()) > e.opts.RebuildThreshold*float64(n) {
		e.rebuild(ctx, "touched threshold")
	}

	e.cycles++
	e.assign(ctx)

	if e.opts.SnapshotEvery > 0 && e.opts.Store != nil && !e.recovering && e.cycles%uint64(e.opts.SnapshotEvery) == 0 {
		if _, err := e.snapshot(ctx); err != nil {
			e.logger.Warn("periodic snapshot failed", "error", err)
		}
	}
}
