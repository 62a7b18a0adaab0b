package distance

import (
	"fmt"
	"math"
)

// Transform maps a precise similarity score onto a distance.
type Transform int

const (
	// Reciprocal maps s to 1/(1+s). Negative scores are clamped to 0.
	Reciprocal Transform = iota
	// NegLog maps s, clamped to (0, 1], to -ln(s) / (1 - ln(s)).
	NegLog
)

// minNegLogScore bounds NegLog away from ln(0).
const minNegLogScore = 1e-12

func (t Transform) String() string {
	switch t {
	case Reciprocal:
		return "reciprocal"
	case NegLog:
		return "neglog"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ParseTransform parses a transform name.
func ParseTransform(s string) (Transform, error) {
	switch s {
	case "reciprocal", "":
		return Reciprocal, nil
	case "neglog":
		return NegLog, nil
	default:
		return 0, fmt.Errorf("unknown transform %q", s)
	}
}

// Distance converts a similarity into a distance in [0, 1].
// Identical content (large similarity) approaches 0.
func (t Transform) Distance(score float64) float64 {
	if math.IsNaN(score) {
		return 1
	}
	switch t {
	case NegLog:
		s := min(max(score, minNegLogScore), 1)
		l := -math.Log(s)
		return l / (1 + l)
	default:
		s := max(score, 0)
		if math.IsInf(s, 1) {
			return 0
		}
		return 1 / (1 + s)
	}
}

// CoarseFallback maps a raw coarse distance onto [0, 1) for use when the
// precise rescorer did not produce a score. Negative inputs (MetricDot)
// are shifted through a logistic so ordering is preserved.
func CoarseFallback(coarse float32) float64 {
	c := float64(coarse)
	if math.IsNaN(c) {
		return 1
	}
	if c < 0 {
		return 0.5 / (1 + math.Exp(-c))
	}
	if math.IsInf(c, 1) {
		return 1
	}
	return c / (1 + c)
}
