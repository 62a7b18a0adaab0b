// Package mst maintains a minimum spanning forest over mutual reachability
// distances and derives the single-linkage dendrogram from it.
//
// Local repair applies the cycle property: a proposed edge that is cheaper
// than the heaviest edge on the forest path between its endpoints replaces
// that edge. Full rebuilds run Kruskal's algorithm over the candidate edge
// set. Edges are ordered by (weight, A, B) everywhere, so the forest and the
// dendrogram are deterministic for a given input.
package mst
