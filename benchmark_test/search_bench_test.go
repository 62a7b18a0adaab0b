package benchmark_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/testutil"
)

// BenchmarkQuery measures coarse k-NN queries against the committed index
// and reports recall@k against brute force.
func BenchmarkQuery(b *testing.B) {
	for _, k := range []int{1, 10} {
		b.Run("k="+strconv.Itoa(k), func(b *testing.B) {
			store, recs := dataset(b, 8, 250, dimSmall)
			db := OpenBenchDB(b, dimSmall, store)
			defer db.Close()

			ctx := context.Background()
			if _, err := db.BatchInsert(ctx, recs); err != nil {
				b.Fatal(err)
			}

			data := make([][]float32, len(recs))
			for i, r := range recs {
				data[i] = r.Coarse
			}
			queries := testutil.NewRNG(benchSeed+1).UniformVectors(64, dimSmall)

			var (
				recall  float64
				checked int
			)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				q := queries[i%len(queries)]
				res, err := db.Query(ctx, q, k)
				if err != nil {
					b.Fatal(err)
				}
				if i < len(queries) {
					b.StopTimer()
					truth := testutil.ExactTopK(q, data, k, distance.SquaredL2)
					approx := make([]testutil.SearchResult, len(res))
					for j, n := range res {
						approx[j] = testutil.SearchResult{ID: index(n.ID)}
					}
					recall += testutil.ComputeRecall(truth, approx)
					checked++
					b.StartTimer()
				}
			}
			b.StopTimer()
			b.ReportMetric(recall/float64(checked), "recall@k")
		})
	}
}
