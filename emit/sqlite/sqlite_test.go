package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/fishdbc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_Upsert(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, filepath.Join(t.TempDir(), "out", "assignments.db"))
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(ctx, []model.Assignment{
		{PointID: "a", ClusterID: 10, Probability: 0.9, Seq: 3},
		{PointID: "b", ClusterID: 10, Probability: 1, Seq: 4},
		{PointID: "c", ClusterID: model.Noise, Seq: 5, Degraded: true},
	}))

	// Redelivery of the same batch is idempotent.
	require.NoError(t, sink.Emit(ctx, []model.Assignment{
		{PointID: "a", ClusterID: 10, Probability: 0.9, Seq: 3},
	}))

	// Newer version wins, stale version is ignored.
	require.NoError(t, sink.Emit(ctx, []model.Assignment{
		{PointID: "b", ClusterID: 20, Probability: 0.5, Seq: 9},
		{PointID: "c", ClusterID: 30, Probability: 1, Seq: 1},
	}))

	a, err := sink.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.Assignment{PointID: "a", ClusterID: 10, Probability: 0.9, Seq: 3}, a)

	b, err := sink.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.ClusterID(20), b.ClusterID)
	assert.Equal(t, uint64(9), b.Seq)

	c, err := sink.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, c.IsNoise())
	assert.True(t, c.Degraded)

	_, err = sink.Get(ctx, "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	sizes, err := sink.ClusterSizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.ClusterID]int{10: 1, 20: 1, model.Noise: 1}, sizes)
}

func TestSink_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "assignments.db")

	sink, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, sink.Emit(ctx, []model.Assignment{{PointID: "a", ClusterID: 1, Probability: 1, Seq: 1}}))
	require.NoError(t, sink.Close())

	sink, err = Open(ctx, path)
	require.NoError(t, err)
	defer sink.Close()

	a, err := sink.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.ClusterID(1), a.ClusterID)
}
