package unionfind

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/fishdbc/model"
)

func TestUnionFind(t *testing.T) {
	uf := New(5)
	assert.Equal(t, 5, uf.Sets())

	_, merged := uf.Union(0, 1)
	assert.True(t, merged)
	_, merged = uf.Union(1, 0)
	assert.False(t, merged)

	uf.Union(2, 3)
	uf.Union(3, 1)

	assert.True(t, uf.Connected(0, 2))
	assert.False(t, uf.Connected(0, 4))
	assert.Equal(t, 4, uf.Size(3))
	assert.Equal(t, 1, uf.Size(4))
	assert.Equal(t, 2, uf.Sets())
}

func TestUnionFind_Grow(t *testing.T) {
	uf := New(2)
	uf.Union(0, 1)
	uf.Grow(4)

	assert.Equal(t, 4, uf.Len())
	assert.Equal(t, 3, uf.Sets())
	assert.Equal(t, model.Handle(3), uf.Find(3))
}

func TestUnionFind_PathCompression(t *testing.T) {
	const n = 1000
	uf := New(n)
	for i := 1; i < n; i++ {
		uf.Union(model.Handle(i-1), model.Handle(i))
	}
	root := uf.Find(n - 1)
	for i := range n {
		assert.Equal(t, root, uf.Find(model.Handle(i)))
	}
	assert.Equal(t, n, uf.Size(0))
	assert.Equal(t, 1, uf.Sets())
}
