package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/internal/resource"
)

// Options configures a TwoTier oracle.
type Options struct {
	// Metric is the coarse metric.
	Metric distance.Metric
	// Transform maps precise similarities to distances.
	Transform distance.Transform
	// Timeout bounds one precise call, including waiting for a slot.
	Timeout time.Duration
	// MaxConcurrent bounds in-flight precise calls.
	MaxConcurrent int64
	// RateLimit bounds precise calls per second (0 = unlimited).
	RateLimit float64
	// UnavailableAfter is the number of consecutive failures that switch the
	// oracle to coarse-only mode.
	UnavailableAfter int
	// ProbeInterval is the pause between availability probes in coarse-only mode.
	ProbeInterval time.Duration
	// Logger receives oracle health events. Nil discards them.
	Logger *slog.Logger
	// Now is the clock used by the circuit breaker.
	Now func() time.Time
}

// DefaultOptions contains the default TwoTier options.
var DefaultOptions = Options{
	Metric:           distance.MetricCosine,
	Transform:        distance.Reciprocal,
	Timeout:          2 * time.Second,
	MaxConcurrent:    8,
	UnavailableAfter: 5,
	ProbeInterval:    10 * time.Second,
}

// Stats counts oracle activity.
type Stats struct {
	Calls     int64
	Failures  int64
	Timeouts  int64
	Degraded  int64
	Recovered int64
}

// TwoTier combines a local coarse metric with a remote precise scorer.
type TwoTier struct {
	scorer    PreciseScorer
	coarse    distance.Func
	transform distance.Transform
	timeout   time.Duration
	rc        *resource.Controller
	breaker   *breaker
	logger    *slog.Logger

	calls     atomic.Int64
	failures  atomic.Int64
	timeouts  atomic.Int64
	degraded  atomic.Int64
	recovered atomic.Int64
}

// NewTwoTier creates a TwoTier oracle around scorer.
func NewTwoTier(scorer PreciseScorer, optFns ...func(o *Options)) (*TwoTier, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	coarse, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if opts.UnavailableAfter <= 0 {
		opts.UnavailableAfter = DefaultOptions.UnavailableAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &TwoTier{
		scorer:    scorer,
		coarse:    coarse,
		transform: opts.Transform,
		timeout:   opts.Timeout,
		rc: resource.NewController(resource.Config{
			MaxConcurrentCalls: opts.MaxConcurrent,
			CallsPerSecond:     opts.RateLimit,
		}),
		breaker: &breaker{
			threshold: opts.UnavailableAfter,
			interval:  opts.ProbeInterval,
			now:       opts.Now,
		},
		logger: opts.Logger,
	}, nil
}

// CoarseDistance implements Oracle.
func (o *TwoTier) CoarseDistance(a, b Point) float32 {
	return o.coarse(a.Coarse, b.Coarse)
}

// Healthy reports whether the precise scorer is considered available.
func (o *TwoTier) Healthy() bool {
	return o.breaker.closed()
}

// Stats returns a snapshot of the oracle counters.
func (o *TwoTier) Stats() Stats {
	return Stats{
		Calls:     o.calls.Load(),
		Failures:  o.failures.Load(),
		Timeouts:  o.timeouts.Load(),
		Degraded:  o.degraded.Load(),
		Recovered: o.recovered.Load(),
	}
}

type scorerResult struct {
	sims map[string]float64
	err  error
}

// RescoreCandidates implements Oracle.
func (o *TwoTier) RescoreCandidates(ctx context.Context, query Point, candidates []Point) (map[string]Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]Score, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}

	allowed, probe := o.breaker.allow()
	if !allowed {
		o.fallbackAll(out, query, candidates, ErrOracleUnavailable)
		return out, nil
	}

	sims, err := o.call(ctx, query, candidates)
	if ctx.Err() != nil {
		// The owning insertion was superseded or shut down; discard.
		if probe {
			o.breaker.failure(true)
		}
		return nil, ctx.Err()
	}
	if err != nil {
		o.failures.Add(1)
		reason := ErrScorerFailed
		if errors.Is(err, context.DeadlineExceeded) {
			o.timeouts.Add(1)
			reason = ErrOracleTimeout
		}
		if o.breaker.failure(probe) {
			o.logger.Warn("precise scorer unavailable, switching to coarse-only distances", "error", err)
		}
		o.fallbackAll(out, query, candidates, reason)
		return out, nil
	}

	if o.breaker.success() {
		o.recovered.Add(1)
		o.logger.Info("precise scorer available again")
	}

	for _, c := range candidates {
		s, ok := sims[c.PreciseRef]
		if !ok || math.IsNaN(s) {
			o.fallback(out, query, c, ErrUnscored)
			continue
		}
		out[c.ID] = Score{Distance: o.transform.Distance(s)}
	}
	return out, nil
}

// call invokes the scorer under the per-call deadline. A scorer that ignores
// its context is abandoned when the deadline passes.
func (o *TwoTier) call(ctx context.Context, query Point, candidates []Point) (map[string]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.rc.AcquireCall(callCtx); err != nil {
		if callCtx.Err() != nil {
			return nil, callCtx.Err()
		}
		return nil, err
	}
	o.calls.Add(1)

	refs := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.PreciseRef]; ok {
			continue
		}
		seen[c.PreciseRef] = struct{}{}
		refs = append(refs, c.PreciseRef)
	}

	done := make(chan scorerResult, 1)
	go func() {
		defer o.rc.ReleaseCall()
		sims, err := o.scorer.Similarities(callCtx, query.PreciseRef, refs)
		done <- scorerResult{sims: sims, err: err}
	}()

	select {
	case res := <-done:
		return res.sims, res.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

func (o *TwoTier) fallbackAll(out map[string]Score, query Point, candidates []Point, reason error) {
	for _, c := range candidates {
		o.fallback(out, query, c, reason)
	}
}

func (o *TwoTier) fallback(out map[string]Score, query Point, c Point, reason error) {
	o.degraded.Add(1)
	out[c.ID] = Score{
		Distance: distance.CoarseFallback(o.CoarseDistance(query, c)),
		Degraded: true,
		Reason:   reason,
	}
}
