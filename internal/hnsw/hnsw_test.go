package hnsw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/testutil"
)

func newTestIndex(t *testing.T, dim int) *HNSW {
	t.Helper()
	seed := int64(4711)
	h, err := New(func(o *Options) {
		o.Dimension = dim
		o.M = 8
		o.EF = 64
		o.RandomSeed = &seed
	})
	require.NoError(t, err)
	return h
}

func TestNew(t *testing.T) {
	_, err := New()
	var dimErr *ErrInvalidDimension
	require.ErrorAs(t, err, &dimErr)

	h := newTestIndex(t, 4)
	assert.Equal(t, "HNSW", h.Name())
	assert.Equal(t, 4, h.Dimension())
	assert.Equal(t, distance.MetricL2, h.Metric())
	assert.Equal(t, 0, h.Len())
}

func TestHNSW_CommitPublishes(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 2)

	require.NoError(t, h.Insert(ctx, 0, []float32{0, 0}))
	require.NoError(t, h.Insert(ctx, 1, []float32{1, 1}))

	// Uncommitted writes are invisible to readers.
	assert.Equal(t, 0, h.Len())
	res, err := h.Search(ctx, []float32{0, 0}, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, res)

	h.Commit()

	assert.Equal(t, 2, h.Len())
	assert.True(t, h.Contains(1))
	assert.False(t, h.Contains(7))
	res, err = h.Search(ctx, []float32{0.9, 0.9}, 1, 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, model.Handle(1), res[0].ID)
}

func TestHNSW_Errors(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 2)

	assert.ErrorIs(t, h.Insert(ctx, 0, nil), ErrEmptyVector)

	var mismatch *ErrDimensionMismatch
	require.ErrorAs(t, h.Insert(ctx, 0, []float32{1, 2, 3}), &mismatch)
	assert.Equal(t, 2, mismatch.Expected)
	assert.Equal(t, 3, mismatch.Actual)

	var notFound *ErrNodeNotFound
	require.ErrorAs(t, h.Update(ctx, 3, []float32{1, 2}), &notFound)

	_, err := h.Search(ctx, []float32{0, 0}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestHNSW_Recall(t *testing.T) {
	ctx := context.Background()
	const (
		n   = 300
		dim = 8
		k   = 10
	)
	rng := testutil.NewRNG(42)
	data := rng.UniformVectors(n, dim)

	h := newTestIndex(t, dim)
	for i, v := range data {
		require.NoError(t, h.Insert(ctx, model.Handle(i), v))
		if i%50 == 0 {
			h.Commit()
		}
	}
	h.Commit()
	require.Equal(t, n, h.Len())

	var total float64
	queries := rng.UniformVectors(20, dim)
	for _, q := range queries {
		res, err := h.Search(ctx, q, k, 100)
		require.NoError(t, err)

		approx := make([]testutil.SearchResult, len(res))
		for i, r := range res {
			approx[i] = testutil.SearchResult{ID: uint32(r.ID), Distance: r.Distance}
		}
		total += testutil.ComputeRecall(testutil.ExactTopK(q, data, k, distance.SquaredL2), approx)
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

func TestHNSW_SymmetricAfterCommit(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(7)
	h := newTestIndex(t, 4)
	for i, v := range rng.UniformVectors(200, 4) {
		require.NoError(t, h.Insert(ctx, model.Handle(i), v))
	}
	h.Commit()

	st := h.Stats()
	require.NotEmpty(t, st.Levels)
	l0 := st.Levels[0]
	assert.Equal(t, 200, l0.Nodes)
	assert.Positive(t, l0.Connections)
	// One-sided edges only survive where dropping them would isolate a node.
	assert.LessOrEqual(t, l0.Asymmetric*20, l0.Connections)
}

func TestHNSW_UpdateMovesNode(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	vecs, _ := rng.Blobs(2, 30, 4, 0.05)

	h := newTestIndex(t, 4)
	for i, v := range vecs {
		require.NoError(t, h.Insert(ctx, model.Handle(i), v))
	}
	h.Commit()

	// Move node 0 from blob 0 into blob 1.
	target := []float32{0, 10, 0, 0}
	require.NoError(t, h.Insert(ctx, 0, target))
	h.Commit()

	assert.Equal(t, 60, h.Len())
	v, ok := h.Vector(0)
	require.True(t, ok)
	assert.Equal(t, target, v)

	res, err := h.Search(ctx, target, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, model.Handle(0), res[0].ID)
	for _, r := range res {
		assert.True(t, r.ID == 0 || r.ID >= 30, "unexpected neighbor %d", r.ID)
	}
}

func TestHNSW_ExportImport(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(11)
	data := rng.UniformVectors(100, 4)

	h := newTestIndex(t, 4)
	for i, v := range data {
		require.NoError(t, h.Insert(ctx, model.Handle(i), v))
	}
	h.Commit()

	st := h.Export()
	restored := newTestIndex(t, 4)
	require.NoError(t, restored.Import(st))

	assert.Equal(t, h.Len(), restored.Len())
	assert.Equal(t, h.Handles(), restored.Handles())
	for _, q := range rng.UniformVectors(5, 4) {
		a, err := h.Search(ctx, q, 5, 0)
		require.NoError(t, err)
		b, err := restored.Search(ctx, q, 5, 0)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	// The restored index keeps accepting writes.
	require.NoError(t, restored.Insert(ctx, 100, []float32{0.5, 0.5, 0.5, 0.5}))
	restored.Commit()
	assert.Equal(t, 101, restored.Len())

	restored.Reset()
	assert.Equal(t, 0, restored.Len())
}

func TestHNSW_Deterministic(t *testing.T) {
	ctx := context.Background()
	data := testutil.NewRNG(5).UniformVectors(80, 4)

	build := func() State {
		h := newTestIndex(t, 4)
		for i, v := range data {
			require.NoError(t, h.Insert(ctx, model.Handle(i), v))
		}
		h.Commit()
		return h.Export()
	}

	assert.Equal(t, build(), build())
}

func TestHNSW_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 2)
	require.NoError(t, h.Insert(ctx, 0, []float32{0, 0}))
	require.NoError(t, h.Insert(ctx, 1, []float32{1, 0}))
	h.Commit()

	before := h.Links(0, 0)

	require.NoError(t, h.Insert(ctx, 2, []float32{0.1, 0}))
	// Node 0 was rewired in the working graph only.
	assert.Equal(t, before, h.Links(0, 0))

	h.Commit()
	assert.NotEqual(t, before, h.Links(0, 0))
}
