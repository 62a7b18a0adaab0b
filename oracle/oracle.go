package oracle

import (
	"context"
	"errors"
)

var (
	// ErrOracleTimeout marks scores substituted because the precise call exceeded its deadline.
	ErrOracleTimeout = errors.New("oracle: precise rescoring timed out")

	// ErrOracleUnavailable marks scores substituted while the precise scorer is considered down.
	ErrOracleUnavailable = errors.New("oracle: precise scorer unavailable")

	// ErrUnscored marks candidates the precise scorer left out of a partial response.
	ErrUnscored = errors.New("oracle: candidate not scored")

	// ErrScorerFailed marks scores substituted after a precise scorer error.
	ErrScorerFailed = errors.New("oracle: precise scorer failed")
)

// Point is the oracle's view of a point.
type Point struct {
	ID         string
	Coarse     []float32
	PreciseRef string
}

// Score is a final distance for one candidate.
type Score struct {
	Distance float64
	// Degraded is set when Distance was derived from the coarse metric.
	Degraded bool
	// Reason explains a degraded score.
	Reason error
}

// Oracle computes distances between points.
type Oracle interface {
	// CoarseDistance returns the cheap shortlist metric between two points.
	CoarseDistance(a, b Point) float32

	// RescoreCandidates returns a final distance for every candidate, keyed
	// by candidate ID. It fails only when ctx is cancelled, in which case
	// no partial result is returned. Callers treat any other error as if
	// every candidate were unscored.
	RescoreCandidates(ctx context.Context, query Point, candidates []Point) (map[string]Score, error)
}

// HealthReporter is implemented by oracles that track precise scorer availability.
type HealthReporter interface {
	Healthy() bool
}

// PreciseScorer is the expensive similarity collaborator. Similarities are
// keyed by candidate reference; missing keys are treated as unscored.
type PreciseScorer interface {
	Similarities(ctx context.Context, queryRef string, candidateRefs []string) (map[string]float64, error)
}

// ScorerFunc adapts a function to PreciseScorer.
type ScorerFunc func(ctx context.Context, queryRef string, candidateRefs []string) (map[string]float64, error)

// Similarities implements PreciseScorer.
func (f ScorerFunc) Similarities(ctx context.Context, queryRef string, candidateRefs []string) (map[string]float64, error) {
	return f(ctx, queryRef, candidateRefs)
}
