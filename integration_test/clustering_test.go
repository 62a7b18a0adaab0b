package integration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/testutil"
)

func TestClustering_Blobs(t *testing.T) {
	ctx := context.Background()
	store, recs, labels := blobs(t, 20)
	db := open(t, store)
	defer db.Close()

	for _, r := range recs {
		_, err := db.Insert(ctx, r)
		require.NoError(t, err)
	}

	require.Len(t, db.Clusters(), 3)
	ids := clusterIDs(t, db, recs)
	assert.NotContains(t, ids, model.Noise)
	assert.True(t, testutil.SameGrouping(labels, ids))
	require.NoError(t, db.Verify(ctx))

	t.Run("BatchMatchesSingleInserts", func(t *testing.T) {
		batched := open(t, store)
		defer batched.Close()

		_, err := batched.BatchInsert(ctx, recs)
		require.NoError(t, err)
		assert.True(t, testutil.SameGrouping(ids, clusterIDs(t, batched, recs)))
	})

	t.Run("RebuildKeepsClustering", func(t *testing.T) {
		require.NoError(t, db.Rebuild(ctx))
		assert.Equal(t, ids, clusterIDs(t, db, recs))
	})
}
