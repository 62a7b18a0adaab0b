// Package unionfind implements a disjoint-set forest over dense handles
// with path compression and union by rank.
package unionfind

import "github.com/hupe1980/fishdbc/model"

// UnionFind tracks a partition of handles into disjoint sets.
// It is not safe for concurrent use.
type UnionFind struct {
	parent []model.Handle
	rank   []uint8
	size   []int
	sets   int
}

// New creates a union-find with n singleton sets.
func New(n int) *UnionFind {
	uf := &UnionFind{}
	uf.Grow(n)
	return uf
}

// Grow extends the universe to n handles. New handles start as singletons.
func (uf *UnionFind) Grow(n int) {
	for i := len(uf.parent); i < n; i++ {
		uf.parent = append(uf.parent, model.Handle(i))
		uf.rank = append(uf.rank, 0)
		uf.size = append(uf.size, 1)
		uf.sets++
	}
}

// Len returns the size of the universe.
func (uf *UnionFind) Len() int { return len(uf.parent) }

// Sets returns the number of disjoint sets.
func (uf *UnionFind) Sets() int { return uf.sets }

// Find returns the representative of x's set.
func (uf *UnionFind) Find(x model.Handle) model.Handle {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// Path compression.
	for uf.parent[x] != root {
		next := uf.parent[x]
		uf.parent[x] = root
		x = next
	}
	return root
}

// Connected reports whether a and b share a set.
func (uf *UnionFind) Connected(a, b model.Handle) bool {
	return uf.Find(a) == uf.Find(b)
}

// Union merges the sets of a and b. It returns the new representative and
// false if both were already in the same set.
func (uf *UnionFind) Union(a, b model.Handle) (model.Handle, bool) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return ra, false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	uf.sets--
	return ra, true
}

// Size returns the number of members in x's set.
func (uf *UnionFind) Size(x model.Handle) int {
	return uf.size[uf.Find(x)]
}
