package engine

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/hupe1980/fishdbc/internal/condense"
	"github.com/hupe1980/fishdbc/model"
)

// assign derives the dendrogram and the flat clustering, queues changed
// assignments for emission and publishes a new view.
//
// A selected cluster is identified by the smallest first-insertion sequence
// among its members, which keeps IDs stable while clusters grow.
func (e *Engine) assign(ctx context.Context) {
	n := len(e.points)
	merges := e.forest.Dendrogram(n)
	res, err := condense.Condense(n, merges, func(o *condense.Options) {
		o.MinClusterSize = e.opts.MinClusterSize
		o.AllowSingleCluster = e.opts.AllowSingleCluster
	})
	if err != nil {
		e.logger.Error("condensation failed, keeping previous clustering", "error", err)
		return
	}
	e.merges = merges

	ids := make([]model.ClusterID, len(res.Clusters))
	clusters := make([]model.Cluster, 0, len(res.Selected))
	for _, ci := range res.Selected {
		c := &res.Clusters[ci]
		first := uint64(math.MaxUint64)
		members := make([]string, len(c.Members))
		for i, h := range c.Members {
			first = min(first, e.points[h].first)
			members[i] = e.points[h].id
		}
		slices.Sort(members)
		ids[ci] = model.ClusterID(first)
		clusters = append(clusters, model.Cluster{
			ID:            ids[ci],
			Members:       members,
			Stability:     c.Stability,
			BirthDistance: c.BirthDistance(),
			DeathDistance: c.DeathDistance(),
		})
	}
	slices.SortFunc(clusters, func(a, b model.Cluster) int { return cmp.Compare(a.ID, b.ID) })

	assignments := make(map[string]model.Assignment, n)
	for h := range e.points {
		p := &e.points[h]
		a := model.Assignment{
			PointID:   p.id,
			ClusterID: model.Noise,
			Degraded:  e.degraded.Contains(uint32(h)),
			Seq:       p.seq,
		}
		if l := res.Labels[h]; l >= 0 {
			a.ClusterID = ids[l]
			a.Probability = res.Probabilities[h]
		}
		assignments[p.id] = a
		if p.state == model.StateReachabilityCurrent {
			p.state = model.StateAssigned
		}
		if prev, ok := e.flushed[p.id]; !ok || prev != a {
			e.outbox.Add(a)
		}
	}

	e.flush(ctx)
	e.publish(assignments, clusters)
}

// flush hands pending assignments to the emitter. Failed batches stay in the
// outbox and are retried after the next cycle, on the maintenance tick and
// on Close.
func (e *Engine) flush(ctx context.Context) {
	if e.outbox.Len() == 0 {
		return
	}
	pending := e.outbox.Pending()
	n, err := e.outbox.Flush(ctx, e.opts.Emitter)
	e.metrics.OnEmit(len(pending), err)
	if err != nil {
		e.logger.Warn("emission failed, keeping assignments for retry", "pending", len(pending), "error", err)
		return
	}
	for _, a := range pending {
		e.flushed[a.PointID] = a
	}
	e.logger.Debug("emitted assignments", "count", n)
}

// retry flushes the outbox outside of a cycle and republishes the view
// when the pending count changed.
func (e *Engine) retry(ctx context.Context) {
	before := e.outbox.Len()
	if before == 0 {
		return
	}
	e.flush(ctx)
	if v := e.view.Load(); v != nil && e.outbox.Len() != before {
		next := *v
		next.Pending = e.outbox.Len()
		e.view.Store(&next)
	}
}

func (e *Engine) publish(assignments map[string]model.Assignment, clusters []model.Cluster) {
	e.view.Store(&View{
		Seq:         e.applied,
		Points:      len(e.points),
		Assignments: assignments,
		Clusters:    clusters,
		Dendrogram:  e.merges,
		Degraded:    int(e.degraded.GetCardinality()),
		Rebuilds:    e.rebuilds,
		Cycles:      e.cycles,
		Pending:     e.outbox.Len(),
		ids:         e.ids[:len(e.ids):len(e.ids)],
	})
}
