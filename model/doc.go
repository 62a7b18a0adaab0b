// Package model defines the public types shared by the clustering engine and
// its collaborators.
//
// # Identity Types
//
//   - Record.ID: caller-supplied point identifier; re-inserting an ID is an update
//   - Handle: dense, engine-local handle of a point (stable for the lifetime of the point)
//   - ClusterID: identifier of a selected flat cluster, or Noise
//
// # Data Types
//
//   - Record: input point (coarse vector + precise reference)
//   - Assignment: output record keyed by point ID
//   - Cluster: selected flat cluster with stability and persistence range
//   - Neighbor: precise neighbor entry used for explainability
//   - Merge: dendrogram merge event
package model
