// Package oracle provides the distance oracle used by the clustering core.
//
// An Oracle has exactly two operations: CoarseDistance, a cheap metric on
// coarse vectors used only to shortlist candidates, and RescoreCandidates,
// which returns final distances for a shortlist from an expensive precise
// scorer.
//
// TwoTier is the production adapter. It wraps a PreciseScorer with a
// per-call timeout, a concurrency bound, a rate limit and a circuit breaker.
// Whenever a precise score is missing it substitutes a distance derived from
// the coarse metric and marks the score as degraded:
//
//	o := oracle.NewTwoTier(oracle.NewMaxSim(store), func(o *oracle.Options) {
//	    o.Timeout = 2 * time.Second
//	    o.MaxConcurrent = 8
//	})
//
//	scores, err := o.RescoreCandidates(ctx, query, shortlist)
//
// Precise similarities are mapped to distances with a distance.Transform,
// 1/(1+s) by default.
package oracle
