package mst

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/fishdbc/internal/unionfind"
	"github.com/hupe1980/fishdbc/model"
)

// Edge is an undirected forest edge. Canonical edges have A < B.
type Edge struct {
	A        model.Handle `msgpack:"a"`
	B        model.Handle `msgpack:"b"`
	Weight   float64      `msgpack:"w"`
	Degraded bool         `msgpack:"g,omitempty"`
}

func canonical(e Edge) Edge {
	if e.A > e.B {
		e.A, e.B = e.B, e.A
	}
	return e
}

// compareEdges orders edges by weight, then by endpoints.
func compareEdges(x, y Edge) int {
	x, y = canonical(x), canonical(y)
	if c := cmp.Compare(x.Weight, y.Weight); c != 0 {
		return c
	}
	if c := cmp.Compare(x.A, y.A); c != 0 {
		return c
	}
	return cmp.Compare(x.B, y.B)
}

type half struct {
	to       model.Handle
	weight   float64
	degraded bool
}

// Forest is a spanning forest over dense handles.
// It is owned by the writer and not safe for concurrent use.
type Forest struct {
	adj   [][]half
	edges int

	// Scratch space for path searches.
	stamp    []uint32
	parent   []model.Handle
	parentW  []half
	gen      uint32
	frontier []model.Handle
}

// New creates a forest of n isolated nodes.
func New(n int) *Forest {
	f := &Forest{}
	f.Grow(n)
	return f
}

// Grow extends the forest to n nodes.
func (f *Forest) Grow(n int) {
	for len(f.adj) < n {
		f.adj = append(f.adj, nil)
		f.stamp = append(f.stamp, 0)
		f.parent = append(f.parent, 0)
		f.parentW = append(f.parentW, half{})
	}
}

// Len returns the number of nodes.
func (f *Forest) Len() int { return len(f.adj) }

// EdgeCount returns the number of edges.
func (f *Forest) EdgeCount() int { return f.edges }

// Degree returns the number of forest edges touching h.
func (f *Forest) Degree(h model.Handle) int {
	if int(h) >= len(f.adj) {
		return 0
	}
	return len(f.adj[h])
}

func (f *Forest) link(e Edge) {
	f.adj[e.A] = append(f.adj[e.A], half{to: e.B, weight: e.Weight, degraded: e.Degraded})
	f.adj[e.B] = append(f.adj[e.B], half{to: e.A, weight: e.Weight, degraded: e.Degraded})
	f.edges++
}

func (f *Forest) unlink(a, b model.Handle) bool {
	i := slices.IndexFunc(f.adj[a], func(h half) bool { return h.to == b })
	if i < 0 {
		return false
	}
	f.adj[a] = slices.Delete(f.adj[a], i, i+1)
	if j := slices.IndexFunc(f.adj[b], func(h half) bool { return h.to == a }); j >= 0 {
		f.adj[b] = slices.Delete(f.adj[b], j, j+1)
	}
	f.edges--
	return true
}

func (f *Forest) find(a, b model.Handle) (half, bool) {
	for _, h := range f.adj[a] {
		if h.to == b {
			return h, true
		}
	}
	return half{}, false
}

// path returns the edges on the forest path from a to b, or false if they
// lie in different trees.
func (f *Forest) path(a, b model.Handle) ([]Edge, bool) {
	f.gen++
	if f.gen == 0 {
		clear(f.stamp)
		f.gen = 1
	}
	f.frontier = append(f.frontier[:0], a)
	f.stamp[a] = f.gen

	for len(f.frontier) > 0 {
		curr := f.frontier[len(f.frontier)-1]
		f.frontier = f.frontier[:len(f.frontier)-1]
		if curr == b {
			var out []Edge
			for n := b; n != a; n = f.parent[n] {
				h := f.parentW[n]
				out = append(out, Edge{A: f.parent[n], B: n, Weight: h.weight, Degraded: h.degraded})
			}
			return out, true
		}
		for _, h := range f.adj[curr] {
			if f.stamp[h.to] == f.gen {
				continue
			}
			f.stamp[h.to] = f.gen
			f.parent[h.to] = curr
			f.parentW[h.to] = h
			f.frontier = append(f.frontier, h.to)
		}
	}
	return nil, false
}

// Propose offers a candidate edge. It links the endpoints if they are in
// different trees, or swaps out the heaviest edge on the path between them
// if the candidate is lighter. An edge already in the forest takes the new
// weight. Propose reports whether the forest changed.
func (f *Forest) Propose(e Edge) bool {
	if e.A == e.B {
		return false
	}
	e = canonical(e)
	f.Grow(int(e.B) + 1)

	if h, ok := f.find(e.A, e.B); ok {
		if h.weight == e.Weight && h.degraded == e.Degraded {
			return false
		}
		f.unlink(e.A, e.B)
		f.link(e)
		return true
	}

	path, connected := f.path(e.A, e.B)
	if !connected {
		f.link(e)
		return true
	}

	heaviest := slices.MaxFunc(path, compareEdges)
	if compareEdges(e, heaviest) >= 0 {
		return false
	}
	f.unlink(heaviest.A, heaviest.B)
	f.link(e)
	return true
}

// RemoveEdgesOf detaches h from the forest and returns the removed edges.
func (f *Forest) RemoveEdgesOf(h model.Handle) []Edge {
	if int(h) >= len(f.adj) {
		return nil
	}
	var removed []Edge
	for _, x := range slices.Clone(f.adj[h]) {
		f.unlink(h, x.to)
		removed = append(removed, canonical(Edge{A: h, B: x.to, Weight: x.weight, Degraded: x.degraded}))
	}
	return removed
}

// Reweight recomputes the weights of the edges touching h.
func (f *Forest) Reweight(h model.Handle, weight func(a, b model.Handle, old float64) float64) {
	if int(h) >= len(f.adj) {
		return
	}
	for i, x := range f.adj[h] {
		w := weight(h, x.to, x.weight)
		f.adj[h][i].weight = w
		for j, y := range f.adj[x.to] {
			if y.to == h {
				f.adj[x.to][j].weight = w
			}
		}
	}
}

// Edges returns the forest edges ordered by (weight, A, B).
func (f *Forest) Edges() []Edge {
	out := make([]Edge, 0, f.edges)
	for a, list := range f.adj {
		for _, h := range list {
			if model.Handle(a) < h.to {
				out = append(out, Edge{A: model.Handle(a), B: h.to, Weight: h.weight, Degraded: h.degraded})
			}
		}
	}
	slices.SortFunc(out, compareEdges)
	return out
}

// Reset removes all edges.
func (f *Forest) Reset() {
	for i := range f.adj {
		f.adj[i] = nil
	}
	f.edges = 0
}

// Rebuild replaces the forest with the minimum spanning forest of the given
// candidate edges (Kruskal).
func (f *Forest) Rebuild(n int, candidates []Edge) {
	f.Grow(n)
	f.Reset()

	sorted := make([]Edge, 0, len(candidates))
	for _, e := range candidates {
		if e.A != e.B {
			sorted = append(sorted, canonical(e))
		}
	}
	slices.SortFunc(sorted, compareEdges)

	uf := unionfind.New(len(f.adj))
	for _, e := range sorted {
		if _, merged := uf.Union(e.A, e.B); merged {
			f.link(e)
		}
	}
}

// Load replaces the forest with the given edges without validation.
// Call Verify afterwards when the edges come from an untrusted source.
func (f *Forest) Load(n int, edges []Edge) {
	f.Grow(n)
	f.Reset()
	for _, e := range edges {
		e = canonical(e)
		f.Grow(int(e.B) + 1)
		f.link(e)
	}
}

// Components returns the number of trees.
func (f *Forest) Components() int {
	uf := unionfind.New(len(f.adj))
	for _, e := range f.Edges() {
		uf.Union(e.A, e.B)
	}
	return uf.Sets()
}

// Verify checks the structural invariants: symmetric adjacency, no self
// loops and no cycles.
func (f *Forest) Verify() error {
	uf := unionfind.New(len(f.adj))
	count := 0
	for a, list := range f.adj {
		for _, h := range list {
			if h.to == model.Handle(a) {
				return fmt.Errorf("self loop at %d", a)
			}
			back, ok := f.find(h.to, model.Handle(a))
			if !ok || back.weight != h.weight {
				return fmt.Errorf("asymmetric edge %d-%d", a, h.to)
			}
			if model.Handle(a) > h.to {
				continue
			}
			count++
			if _, merged := uf.Union(model.Handle(a), h.to); !merged {
				return fmt.Errorf("cycle through edge %d-%d", a, h.to)
			}
		}
	}
	if count != f.edges {
		return fmt.Errorf("edge count %d does not match adjacency %d", f.edges, count)
	}
	if count != len(f.adj)-uf.Sets() {
		return fmt.Errorf("edge count %d is not n-components %d", count, len(f.adj)-uf.Sets())
	}
	return nil
}
