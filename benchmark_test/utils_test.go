package benchmark_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/hupe1980/fishdbc"
	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/testutil"
	"github.com/hupe1980/fishdbc/tokens"
)

const (
	benchSeed = 42

	dimSmall  = 32
	dimMedium = 128
)

// dataset generates clusters*perCluster blob records whose single token
// equals the coarse vector.
func dataset(b *testing.B, clusters, perCluster, dim int) (*tokens.MemoryStore, []model.Record) {
	b.Helper()
	rng := testutil.NewRNG(benchSeed)
	vecs, _ := rng.Blobs(clusters, perCluster, dim, 0.5)
	recs := testutil.Records(vecs)
	store := tokens.NewMemoryStore()
	for _, r := range recs {
		if err := store.Put(context.Background(), r.PreciseRef, [][]float32{r.Coarse}); err != nil {
			b.Fatal(err)
		}
	}
	return store, recs
}

// OpenBenchDB opens an in-memory DB with a MaxSim scorer over store.
func OpenBenchDB(b *testing.B, dim int, store tokens.Store, opts ...fishdbc.Option) *fishdbc.DB {
	b.Helper()
	db, err := fishdbc.Open(context.Background(), dim, oracle.NewMaxSim(store), append([]fishdbc.Option{
		fishdbc.WithMetric(distance.MetricL2),
		fishdbc.WithSeed(benchSeed),
		fishdbc.WithLogger(fishdbc.NoopLogger()),
	}, opts...)...)
	if err != nil {
		b.Fatal(err)
	}
	return db
}

// index recovers the dataset position from a testutil.Records ID.
func index(id string) uint32 {
	i, _ := strconv.Atoi(strings.TrimPrefix(id, "p"))
	return uint32(i)
}
