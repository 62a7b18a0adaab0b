package reach

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/model"
)

func newTable(minSamples, capacity int) *Table {
	return New(func(o *Options) {
		o.MinSamples = minSamples
		o.Capacity = capacity
	})
}

func TestTable_SetAndCore(t *testing.T) {
	tbl := newTable(3, 4)
	assert.Equal(t, 2, tbl.K())

	changed := tbl.Set(0, []Entry{
		{ID: 3, Distance: 0.4},
		{ID: 1, Distance: 0.1},
		{ID: 0, Distance: 0},   // self is ignored
		{ID: 1, Distance: 0.5}, // duplicate keeps the nearest
		{ID: 2, Distance: 0.2},
	})
	require.True(t, changed)

	n := tbl.Neighbors(0)
	require.Len(t, n, 3)
	assert.Equal(t, model.Handle(1), n[0].ID)
	assert.Equal(t, model.Handle(2), n[1].ID)
	assert.Equal(t, 0.2, tbl.Core(0))

	// Too few neighbors: the point cannot be a core point yet.
	assert.True(t, math.IsInf(tbl.Core(1), 1))
	assert.True(t, math.IsInf(tbl.Core(42), 1))
}

func TestTable_MinSamplesOne(t *testing.T) {
	tbl := newTable(1, 4)
	tbl.Set(0, nil)
	assert.Equal(t, 0.0, tbl.Core(0))
	assert.Equal(t, 0.7, tbl.MutualReachability(0, 1, 0.7))
}

func TestTable_Offer(t *testing.T) {
	tbl := newTable(2, 2)

	assert.True(t, tbl.Offer(0, Entry{ID: 1, Distance: 0.5}))
	assert.Equal(t, 0.5, tbl.Core(0))

	assert.True(t, tbl.Offer(0, Entry{ID: 2, Distance: 0.3}))
	assert.Equal(t, 0.3, tbl.Core(0))

	// Worse than a full list.
	assert.False(t, tbl.Offer(0, Entry{ID: 3, Distance: 0.9}))
	// Evicts the current worst (1).
	assert.False(t, tbl.Offer(0, Entry{ID: 4, Distance: 0.4}))
	assert.Equal(t, []Entry{{ID: 2, Distance: 0.3}, {ID: 4, Distance: 0.4}}, tbl.Neighbors(0))
	assert.Empty(t, tbl.Referrers(1))
	assert.Equal(t, []model.Handle{0}, tbl.Referrers(4))

	// Replacing an existing entry.
	assert.True(t, tbl.Offer(0, Entry{ID: 4, Distance: 0.1}))
	assert.Equal(t, 0.1, tbl.Core(0))

	assert.False(t, tbl.Offer(0, Entry{ID: 0, Distance: 0}))
}

func TestTable_Detach(t *testing.T) {
	tbl := newTable(2, 4)
	tbl.Set(0, []Entry{{ID: 1, Distance: 0.1}, {ID: 2, Distance: 0.2}})
	tbl.Set(1, []Entry{{ID: 0, Distance: 0.1}, {ID: 2, Distance: 0.3}})
	tbl.Set(2, []Entry{{ID: 1, Distance: 0.3}})

	changed := tbl.Detach(0)
	assert.Equal(t, []model.Handle{1}, changed)
	assert.Empty(t, tbl.Neighbors(0))
	assert.Equal(t, 0.3, tbl.Core(1))
	assert.True(t, math.IsInf(tbl.Core(0), 1))
	assert.Empty(t, tbl.Referrers(0))
	assert.Equal(t, []model.Handle{1}, tbl.Referrers(2))
}

func TestTable_MutualReachability(t *testing.T) {
	tbl := newTable(2, 4)
	tbl.Set(0, []Entry{{ID: 1, Distance: 0.2}})
	tbl.Set(1, []Entry{{ID: 0, Distance: 0.2}, {ID: 2, Distance: 0.05}})
	tbl.Set(2, []Entry{{ID: 1, Distance: 0.05}})

	assert.Equal(t, 0.2, tbl.MutualReachability(0, 2, 0.01))
	assert.Equal(t, 0.5, tbl.MutualReachability(1, 2, 0.5))
	assert.Equal(t, tbl.MutualReachability(2, 0, 0.1), tbl.MutualReachability(0, 2, 0.1))
}

func TestTable_EdgesAndDegraded(t *testing.T) {
	tbl := newTable(2, 4)
	tbl.Set(0, []Entry{{ID: 1, Distance: 0.2, Degraded: true}})
	tbl.Set(1, []Entry{{ID: 0, Distance: 0.1}, {ID: 2, Distance: 0.3}})

	assert.True(t, tbl.Degraded(0))
	assert.False(t, tbl.Degraded(1))

	edges := tbl.Edges()
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Less(t, e.A, e.B)
	}
	assert.Equal(t, model.Handle(0), edges[0].A)
	assert.False(t, edges[0].Degraded)

	assert.Len(t, tbl.EdgesOf(0), 2)
}

func TestTable_ExportImport(t *testing.T) {
	tbl := newTable(2, 4)
	tbl.Set(0, []Entry{{ID: 1, Distance: 0.2}})
	tbl.Set(1, []Entry{{ID: 0, Distance: 0.2}})

	restored := newTable(2, 4)
	restored.Import(tbl.Export())

	assert.Equal(t, tbl.Neighbors(0), restored.Neighbors(0))
	assert.Equal(t, tbl.Core(1), restored.Core(1))
	assert.Equal(t, []model.Handle{1}, restored.Referrers(0))
}
