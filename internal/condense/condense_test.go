package condense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/model"
)

type builder struct {
	n      int
	merges []model.Merge
}

func (b *builder) size(node uint32) int {
	if int(node) < b.n {
		return 1
	}
	return b.merges[int(node)-b.n].Size
}

func (b *builder) merge(l, r uint32, d float64) uint32 {
	b.merges = append(b.merges, model.Merge{Left: l, Right: r, Distance: d, Size: b.size(l) + b.size(r)})
	return uint32(b.n + len(b.merges) - 1)
}

// chain merges the points one after another at distance d.
func (b *builder) chain(d float64, points ...uint32) uint32 {
	node := points[0]
	for _, p := range points[1:] {
		node = b.merge(node, p, d)
	}
	return node
}

func seq(from, to uint32) []uint32 {
	var out []uint32
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func minSize(n int) func(o *Options) {
	return func(o *Options) { o.MinClusterSize = n }
}

func TestCondense_TightTripleAndOutlier(t *testing.T) {
	b := &builder{n: 4}
	close3 := b.chain(0.01, 0, 1, 2)
	b.merge(3, close3, 0.9)

	res, err := Condense(4, b.merges, minSize(3))
	require.NoError(t, err)

	require.Len(t, res.Selected, 1)
	cl := res.Selected[0]
	for p := range 3 {
		assert.Equal(t, cl, res.Labels[p])
		assert.InDelta(t, 1.0, res.Probabilities[p], 1e-9)
	}
	assert.Equal(t, -1, res.Labels[3])
	assert.Equal(t, 0.0, res.Probabilities[3])
	assert.Equal(t, []model.Handle{0, 1, 2}, res.Clusters[cl].Members)
}

func TestCondense_TwoGroups(t *testing.T) {
	b := &builder{n: 50}
	a := b.chain(0.05, seq(0, 25)...)
	c := b.chain(0.05, seq(25, 50)...)
	b.merge(a, c, 0.9)

	res, err := Condense(50, b.merges, minSize(5))
	require.NoError(t, err)

	require.Len(t, res.Selected, 2)
	for _, i := range res.Selected {
		assert.Positive(t, res.Clusters[i].Stability)
		assert.Len(t, res.Clusters[i].Members, 25)
		assert.InDelta(t, 0.9, res.Clusters[i].BirthDistance(), 1e-9)
		assert.InDelta(t, 0.05, res.Clusters[i].DeathDistance(), 1e-9)
	}
	assert.Equal(t, model.Handle(0), res.Clusters[res.Selected[0]].Members[0])
	assert.Equal(t, model.Handle(25), res.Clusters[res.Selected[1]].Members[0])
	assert.False(t, res.Clusters[0].Selected)
	for p := range 50 {
		assert.NotEqual(t, -1, res.Labels[p])
	}
}

func TestCondense_ExcessOfMass(t *testing.T) {
	build := func(inner, split float64) []model.Merge {
		b := &builder{n: 20}
		a1 := b.chain(inner, seq(0, 5)...)
		a2 := b.chain(inner, seq(5, 10)...)
		a := b.merge(a1, a2, split)
		g := b.chain(0.05, seq(10, 20)...)
		b.merge(a, g, 1.0)
		return b.merges
	}

	t.Run("children outlive parent", func(t *testing.T) {
		res, err := Condense(20, build(0.001, 0.02), minSize(5))
		require.NoError(t, err)
		assert.Len(t, res.Selected, 3)
		assert.NotEqual(t, res.Labels[0], res.Labels[5])
	})

	t.Run("parent outlives children", func(t *testing.T) {
		res, err := Condense(20, build(0.019, 0.02), minSize(5))
		require.NoError(t, err)
		assert.Len(t, res.Selected, 2)
		assert.Equal(t, res.Labels[0], res.Labels[5])
		assert.NotEqual(t, res.Labels[0], res.Labels[10])
	})
}

func TestCondense_Probabilities(t *testing.T) {
	b := &builder{n: 12}
	core := b.chain(0.01, seq(0, 5)...)
	g1 := b.merge(core, 5, 0.02)
	g2 := b.chain(0.01, seq(6, 12)...)
	b.merge(g1, g2, 0.5)

	res, err := Condense(12, b.merges, minSize(5))
	require.NoError(t, err)
	require.Len(t, res.Selected, 2)

	for p := range 5 {
		assert.InDelta(t, 1.0, res.Probabilities[p], 1e-9)
	}
	assert.InDelta(t, 0.5, res.Probabilities[5], 1e-9)
	assert.Equal(t, res.Labels[0], res.Labels[5])
}

func TestCondense_Degenerate(t *testing.T) {
	res, err := Condense(0, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Labels)

	res, err = Condense(1, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, res.Labels)
	assert.Empty(t, res.Selected)

	// Disconnected points only meet at infinity: everything is noise.
	b := &builder{n: 6}
	b.chain(model.Infinity, seq(0, 6)...)
	res, err = Condense(6, b.merges, minSize(2))
	require.NoError(t, err)
	assert.Empty(t, res.Selected)
	for p := range 6 {
		assert.Equal(t, -1, res.Labels[p])
		assert.Equal(t, 0.0, res.Probabilities[p])
	}
}

func TestCondense_InvalidDendrogram(t *testing.T) {
	_, err := Condense(3, []model.Merge{{Left: 0, Right: 1, Distance: 0.1, Size: 2}})
	assert.ErrorIs(t, err, ErrInvalidDendrogram)

	_, err = Condense(3, []model.Merge{
		{Left: 0, Right: 1, Distance: 0.1, Size: 2},
		{Left: 0, Right: 2, Distance: 0.2, Size: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidDendrogram)

	_, err = Condense(3, []model.Merge{
		{Left: 0, Right: 1, Distance: 0.1, Size: 2},
		{Left: 3, Right: 2, Distance: 0.2, Size: 4},
	})
	assert.ErrorIs(t, err, ErrInvalidDendrogram)
}
