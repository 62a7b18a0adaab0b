package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/model"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Intn returns a pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		distance.NormalizeL2InPlace(vec)
		vectors[i] = vec
	}

	return vectors
}

// Blobs generates clusters points around well separated centers.
// Centers sit on the coordinate axes scaled by 10, so blobs with a spread
// well below 1 never overlap. Labels holds the blob index of each vector.
func (r *RNG) Blobs(clusters, perCluster, dim int, spread float32) (vectors [][]float32, labels []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range clusters {
		for range perCluster {
			vec := make([]float32, dim)
			vec[c%dim] = 10 * float32(1+c/dim)
			for j := range vec {
				vec[j] += float32(r.rand.NormFloat64()) * spread
			}
			vectors = append(vectors, vec)
			labels = append(labels, c)
		}
	}

	return vectors, labels
}

// Records wraps vectors into records with IDs "p0", "p1", ...
// PreciseRef equals the ID.
func Records(vectors [][]float32) []model.Record {
	out := make([]model.Record, len(vectors))
	for i, v := range vectors {
		id := fmt.Sprintf("p%d", i)
		out[i] = model.Record{ID: id, Coarse: v, PreciseRef: id}
	}
	return out
}

// ExactTopK computes the k nearest neighbors by brute force.
func ExactTopK(query []float32, dataset [][]float32, k int, fn distance.Func) []SearchResult {
	results := make([]SearchResult, len(dataset))
	for i, v := range dataset {
		results[i] = SearchResult{ID: uint32(i), Distance: fn(query, v)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint32]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// SameGrouping reports whether two labelings induce the same partition of
// the labelled points, ignoring the label values themselves.
func SameGrouping[A, B comparable](a []A, b []B) bool {
	if len(a) != len(b) {
		return false
	}
	ab := make(map[A]B)
	ba := make(map[B]A)
	for i := range a {
		if x, ok := ab[a[i]]; ok && x != b[i] {
			return false
		}
		if y, ok := ba[b[i]]; ok && y != a[i] {
			return false
		}
		ab[a[i]] = b[i]
		ba[b[i]] = a[i]
	}
	return true
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(float64(distance.Dot(v, v)))
}
