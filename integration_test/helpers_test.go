package integration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc"
	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/testutil"
	"github.com/hupe1980/fishdbc/tokens"
)

const dim = 8

// blobs returns three well separated groups of unit vectors. Each record's
// single token equals its coarse vector, so precise distances are about 0.5
// within a group and about 1 across groups.
func blobs(t *testing.T, perCluster int) (*tokens.MemoryStore, []model.Record, []int) {
	t.Helper()
	vecs, labels := testutil.NewRNG(1).Blobs(3, perCluster, dim, 0.05)
	for _, v := range vecs {
		n := float32(testutil.Norm(v))
		for i := range v {
			v[i] /= n
		}
	}
	recs := testutil.Records(vecs)
	store := tokens.NewMemoryStore()
	for _, r := range recs {
		require.NoError(t, store.Put(context.Background(), r.PreciseRef, [][]float32{r.Coarse}))
	}
	return store, recs, labels
}

func open(t *testing.T, store tokens.Store, opts ...fishdbc.Option) *fishdbc.DB {
	t.Helper()
	db, err := fishdbc.Open(context.Background(), dim, oracle.NewMaxSim(store), append([]fishdbc.Option{
		fishdbc.WithMetric(distance.MetricCosine),
		fishdbc.WithSeed(3),
	}, opts...)...)
	require.NoError(t, err)
	return db
}

func clusterIDs(t *testing.T, db *fishdbc.DB, recs []model.Record) []model.ClusterID {
	t.Helper()
	out := make([]model.ClusterID, len(recs))
	for i, r := range recs {
		a, err := db.Assignment(r.ID)
		require.NoError(t, err)
		out[i] = a.ClusterID
	}
	return out
}
