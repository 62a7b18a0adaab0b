package mst

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/model"
)

func randomEdges(n int, seed int64) []Edge {
	rng := rand.New(rand.NewSource(seed))
	var edges []Edge
	for a := range n {
		for b := a + 1; b < n; b++ {
			if rng.Float64() < 0.4 {
				edges = append(edges, Edge{A: model.Handle(a), B: model.Handle(b), Weight: rng.Float64()})
			}
		}
	}
	rng.Shuffle(len(edges), func(i, j int) { edges[i], edges[j] = edges[j], edges[i] })
	return edges
}

func TestForest_ProposeMatchesKruskal(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		edges := randomEdges(40, seed)

		incremental := New(40)
		for _, e := range edges {
			incremental.Propose(e)
			require.NoError(t, incremental.Verify())
		}

		full := New(0)
		full.Rebuild(40, edges)

		assert.Equal(t, full.Edges(), incremental.Edges(), "seed %d", seed)
		assert.Equal(t, full.Components(), incremental.Components())
	}
}

func TestForest_Propose(t *testing.T) {
	f := New(3)

	assert.True(t, f.Propose(Edge{A: 0, B: 1, Weight: 0.5}))
	assert.True(t, f.Propose(Edge{A: 2, B: 1, Weight: 0.4}))
	assert.Equal(t, 1, f.Components())

	// Heavier than every edge on the path.
	assert.False(t, f.Propose(Edge{A: 0, B: 2, Weight: 0.9}))
	// Lighter: replaces 0-1.
	assert.True(t, f.Propose(Edge{A: 0, B: 2, Weight: 0.1}))
	assert.Equal(t, []Edge{{A: 0, B: 2, Weight: 0.1}, {A: 1, B: 2, Weight: 0.4}}, f.Edges())

	// Self loops are ignored; known edges take the new weight.
	assert.False(t, f.Propose(Edge{A: 1, B: 1}))
	assert.True(t, f.Propose(Edge{A: 1, B: 2, Weight: 0.2, Degraded: true}))
	assert.Equal(t, Edge{A: 1, B: 2, Weight: 0.2, Degraded: true}, f.Edges()[1])

	// Proposing beyond the current size grows the forest.
	assert.True(t, f.Propose(Edge{A: 5, B: 0, Weight: 1}))
	assert.Equal(t, 6, f.Len())
	assert.NoError(t, f.Verify())
}

func TestForest_RemoveAndReweight(t *testing.T) {
	f := New(4)
	f.Propose(Edge{A: 0, B: 1, Weight: 0.1})
	f.Propose(Edge{A: 1, B: 2, Weight: 0.2})
	f.Propose(Edge{A: 2, B: 3, Weight: 0.3})

	f.Reweight(2, func(a, b model.Handle, old float64) float64 { return old * 10 })
	assert.Equal(t, []Edge{{A: 0, B: 1, Weight: 0.1}, {A: 1, B: 2, Weight: 2}, {A: 2, B: 3, Weight: 3}}, f.Edges())

	removed := f.RemoveEdgesOf(1)
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, f.Degree(1))
	assert.Equal(t, 1, f.EdgeCount())
	assert.Equal(t, 3, f.Components())
	assert.NoError(t, f.Verify())
}

func TestForest_VerifyDetectsCycle(t *testing.T) {
	f := New(3)
	f.Load(3, []Edge{{A: 0, B: 1, Weight: 1}, {A: 1, B: 2, Weight: 1}, {A: 2, B: 0, Weight: 1}})

	err := f.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	f.Reset()
	assert.NoError(t, f.Verify())
	assert.Equal(t, 0, f.EdgeCount())
}

func TestForest_Dendrogram(t *testing.T) {
	f := New(4)
	f.Propose(Edge{A: 0, B: 1, Weight: 0.1})
	f.Propose(Edge{A: 1, B: 2, Weight: 0.2})

	merges := f.Dendrogram(4)
	require.Len(t, merges, 3)
	assert.Equal(t, model.Merge{Left: 0, Right: 1, Distance: 0.1, Size: 2}, merges[0])
	assert.Equal(t, model.Merge{Left: 2, Right: 4, Distance: 0.2, Size: 3}, merges[1])
	assert.Equal(t, uint32(3), merges[2].Left)
	assert.Equal(t, uint32(5), merges[2].Right)
	assert.True(t, math.IsInf(merges[2].Distance, 1))
	assert.Equal(t, 4, merges[2].Size)

	assert.Nil(t, New(1).Dendrogram(1))
}

func TestForest_DendrogramDeterministic(t *testing.T) {
	edges := randomEdges(30, 9)
	a, b := New(0), New(0)
	a.Rebuild(30, edges)
	for _, e := range edges {
		b.Propose(e)
	}
	assert.Equal(t, a.Dendrogram(30), b.Dendrogram(30))
}
