// Package hnsw implements the approximate neighbor index: a Hierarchical
// Navigable Small World graph over coarse vectors.
//
// # Concurrency
//
// The index follows a single-writer, multiple-reader discipline. One writer
// goroutine mutates a private working graph (copy-on-write per node) and
// publishes an immutable snapshot with Commit. Readers search the last
// published snapshot through an atomic pointer and never block the writer.
//
// # Parameters
//
//   - M: Max connections per node on upper layers (layer 0 allows 2*M)
//   - EF: Construction queue size
//   - EFSearch: Search queue size (default: max(k, EF))
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
