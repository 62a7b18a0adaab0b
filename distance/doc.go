// Package distance provides the coarse vector metrics and the transforms that
// turn precise similarity scores into distances.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: 1 - cosine similarity
//   - MetricDot: negative inner product
//
// # Transforms
//
// Precise rescorers return similarities. A Transform maps a similarity onto a
// distance in [0, 1]: Reciprocal (1/(1+s), the default) or NegLog.
//
// # Usage
//
//	fn, _ := distance.Provider(distance.MetricCosine)
//	d := fn(a, b)
//	dist := distance.Reciprocal.Distance(similarity)
package distance
