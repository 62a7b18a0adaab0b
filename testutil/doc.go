// Package testutil provides testing utilities for fishdbc.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating seeded random vectors and labelled
// blobs, computing exact nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(100, 16)
//	blobs, labels := rng.Blobs(3, 50, 16, 0.05)
//
// # Exact Search (Ground Truth)
//
//	results := testutil.ExactTopK(query, dataset, k, distance.SquaredL2)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(exactResults, approxResults)
package testutil
