package integration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/tokens"
)

func TestEdgeCases_EmptyDB(t *testing.T) {
	ctx := context.Background()
	db := open(t, tokens.NewMemoryStore())
	defer db.Close()

	res, err := db.Query(ctx, make([]float32, dim), 5)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Empty(t, db.Clusters())
	assert.Empty(t, db.Dendrogram())

	_, err = db.Assignment("missing")
	assert.ErrorIs(t, err, fishdbc.ErrNotFound)
	_, _, err = db.Neighbors(ctx, "missing")
	assert.ErrorIs(t, err, fishdbc.ErrNotFound)
	require.NoError(t, db.Verify(ctx))
}

func TestEdgeCases_ReplaceMovesPoint(t *testing.T) {
	ctx := context.Background()
	store, recs, _ := blobs(t, 20)
	db := open(t, store)
	defer db.Close()

	_, err := db.BatchInsert(ctx, recs)
	require.NoError(t, err)
	before := db.Health().Points

	// p0 belongs to the first group; move it next to p40 in the third.
	moved := model.Record{ID: "p0", Coarse: recs[40].Coarse, PreciseRef: "p0-moved"}
	require.NoError(t, store.Put(ctx, moved.PreciseRef, [][]float32{moved.Coarse}))

	seq, err := db.Insert(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(recs)+1), seq)

	a, err := db.Assignment("p0")
	require.NoError(t, err)
	target, err := db.Assignment("p40")
	require.NoError(t, err)
	assert.Equal(t, target.ClusterID, a.ClusterID)
	assert.False(t, a.IsNoise())
	assert.Equal(t, seq, a.Seq)
	assert.Equal(t, before, db.Health().Points)
	require.NoError(t, db.Verify(ctx))
}
