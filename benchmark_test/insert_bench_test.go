package benchmark_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/hupe1980/fishdbc"
)

// BenchmarkInsert measures single-insert throughput. Every insert runs a
// full cycle: search, rescore, forest update and condensation.
func BenchmarkInsert(b *testing.B) {
	for _, dim := range []int{dimSmall, dimMedium} {
		b.Run("dim="+strconv.Itoa(dim), func(b *testing.B) {
			store, recs := dataset(b, 4, 250, dim)
			db := OpenBenchDB(b, dim, store)
			defer db.Close()

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := db.Insert(ctx, recs[i%len(recs)]); err != nil {
					b.Fatal(err)
				}
			}

			b.StopTimer()
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "points/sec")
		})
	}
}

// BenchmarkBatchInsert measures batch-insert throughput with various batch sizes.
func BenchmarkBatchInsert(b *testing.B) {
	for _, bs := range []int{10, 100, 500} {
		b.Run("batch="+strconv.Itoa(bs), func(b *testing.B) {
			store, recs := dataset(b, 4, 250, dimSmall)
			db := OpenBenchDB(b, dimSmall, store, fishdbc.WithBatching(bs, 0))
			defer db.Close()

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				start := (i * bs) % len(recs)
				end := min(start+bs, len(recs))
				if _, err := db.BatchInsert(ctx, recs[start:end]); err != nil {
					b.Fatal(err)
				}
			}

			b.StopTimer()
			b.ReportMetric(float64(b.N*bs)/b.Elapsed().Seconds(), "points/sec")
		})
	}
}

// BenchmarkRebuild measures a full spanning forest rebuild.
func BenchmarkRebuild(b *testing.B) {
	store, recs := dataset(b, 4, 250, dimSmall)
	db := OpenBenchDB(b, dimSmall, store)
	defer db.Close()

	ctx := context.Background()
	if _, err := db.BatchInsert(ctx, recs); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Rebuild(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
