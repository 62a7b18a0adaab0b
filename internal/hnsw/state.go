package hnsw

import (
	"slices"

	"github.com/hupe1980/fishdbc/model"
)

// Export returns a deep copy of the committed graph.
func (h *HNSW) Export() State {
	g := h.published.Load()
	st := State{
		Nodes:      make([]NodeState, len(g.nodes)),
		EntryPoint: g.entryPoint,
		MaxLevel:   g.maxLevel,
		RNG:        h.rng,
	}
	for i, n := range g.nodes {
		if n == nil {
			st.Nodes[i] = NodeState{Level: -1}
			continue
		}
		c := n.clone()
		st.Nodes[i] = NodeState{Level: c.level, Vector: slices.Clone(c.vec), Links: c.links}
	}
	return st
}

// Import replaces the index content with a previously exported state and
// publishes it. Import must only be called by the writer.
func (h *HNSW) Import(st State) error {
	g := &graph{
		nodes:      make([]*node, len(st.Nodes)),
		entryPoint: st.EntryPoint,
		maxLevel:   st.MaxLevel,
	}
	for i, ns := range st.Nodes {
		if ns.Level < 0 {
			continue
		}
		if len(ns.Vector) != h.opts.Dimension {
			return &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(ns.Vector)}
		}
		links := make([][]Neighbor, ns.Level+1)
		for l := range links {
			if l < len(ns.Links) {
				links[l] = slices.Clone(ns.Links[l])
			}
		}
		g.nodes[i] = &node{level: ns.Level, vec: slices.Clone(ns.Vector), links: links}
		g.count++
	}
	if g.count == 0 {
		g.maxLevel = -1
	} else if g.get(g.entryPoint) == nil {
		return &ErrNodeNotFound{ID: g.entryPoint}
	}

	h.work = g
	h.rng = st.RNG
	h.owned.Clear()
	h.dirty.Clear()
	h.published.Store(&graph{
		nodes:      slices.Clone(g.nodes),
		entryPoint: g.entryPoint,
		maxLevel:   g.maxLevel,
		count:      g.count,
	})
	return nil
}

// Reset drops all nodes. The empty graph is published immediately.
func (h *HNSW) Reset() {
	h.work = &graph{maxLevel: -1}
	h.owned.Clear()
	h.dirty.Clear()
	h.published.Store(&graph{maxLevel: -1})
}

// Handles returns the committed handles in ascending order.
func (h *HNSW) Handles() []model.Handle {
	g := h.published.Load()
	out := make([]model.Handle, 0, g.count)
	for i, n := range g.nodes {
		if n != nil {
			out = append(out, model.Handle(i))
		}
	}
	return out
}
