package mst

import (
	"github.com/hupe1980/fishdbc/internal/unionfind"
	"github.com/hupe1980/fishdbc/model"
)

// Dendrogram derives the merge events from the forest. Leaves are the
// handles 0..n-1; merge i creates node n+i. Trees that remain separate are
// joined at infinite distance, lowest representative first, so the result
// always has a single root when n > 0.
func (f *Forest) Dendrogram(n int) []model.Merge {
	if n <= 1 {
		return nil
	}
	f.Grow(n)

	uf := unionfind.New(n)
	node := make([]uint32, n) // set representative -> dendrogram node
	for i := range node {
		node[i] = uint32(i)
	}

	merges := make([]model.Merge, 0, n-1)
	merge := func(a, b model.Handle, w float64) {
		ra, rb := uf.Find(a), uf.Find(b)
		left, right := node[ra], node[rb]
		if left > right {
			left, right = right, left
		}
		size := uf.Size(ra) + uf.Size(rb)
		root, _ := uf.Union(ra, rb)
		merges = append(merges, model.Merge{Left: left, Right: right, Distance: w, Size: size})
		node[root] = uint32(n + len(merges) - 1)
	}

	for _, e := range f.Edges() {
		if int(e.B) >= n || uf.Connected(e.A, e.B) {
			continue
		}
		merge(e.A, e.B, e.Weight)
	}

	var first model.Handle
	for h := 1; h < n; h++ {
		if !uf.Connected(first, model.Handle(h)) {
			merge(first, model.Handle(h), model.Infinity)
		}
	}
	return merges
}
