package oracle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/internal/cache"
	"github.com/hupe1980/fishdbc/internal/resource"
	"github.com/hupe1980/fishdbc/tokens"
)

// MaxSimOptions configures a MaxSim scorer.
type MaxSimOptions struct {
	// CacheBytes bounds the resolved token cache (0 disables caching).
	CacheBytes int64
	// MemoryLimitBytes is a hard limit on cached token memory (0 = CacheBytes only).
	MemoryLimitBytes int64
	// Concurrency bounds parallel reference resolution.
	Concurrency int
}

// MaxSim is a token-level late-interaction scorer over a tokens.Store.
//
// The similarity of two points is the symmetric mean of their MaxSim scores:
// for every token of one side, the best dot product against the tokens of the
// other side, averaged over tokens. With unit-norm tokens it lies in [-1, 1].
type MaxSim struct {
	store tokens.Store
	cache *cache.LRU[string, [][]float32]
	opts  MaxSimOptions
}

// NewMaxSim creates a MaxSim scorer.
func NewMaxSim(store tokens.Store, optFns ...func(o *MaxSimOptions)) *MaxSim {
	opts := MaxSimOptions{CacheBytes: 64 << 20, Concurrency: 8}
	for _, fn := range optFns {
		fn(&opts)
	}
	m := &MaxSim{store: store, opts: opts}
	if opts.CacheBytes > 0 {
		var rc *resource.Controller
		if opts.MemoryLimitBytes > 0 {
			rc = resource.NewController(resource.Config{MemoryLimitBytes: opts.MemoryLimitBytes})
		}
		m.cache = cache.NewLRU[string, [][]float32](opts.CacheBytes, tokens.Cost, rc)
	}
	return m
}

func (m *MaxSim) resolve(ctx context.Context, ref string) ([][]float32, error) {
	if m.cache != nil {
		if toks, ok := m.cache.Get(ref); ok {
			return toks, nil
		}
	}
	toks, err := m.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Set(ref, toks)
	}
	return toks, nil
}

// Similarities implements PreciseScorer. References that cannot be found are
// left out of the result; other store errors fail the call.
func (m *MaxSim) Similarities(ctx context.Context, queryRef string, candidateRefs []string) (map[string]float64, error) {
	q, err := m.resolve(ctx, queryRef)
	if err != nil {
		return nil, fmt.Errorf("resolve query %q: %w", queryRef, err)
	}

	sims := make([]float64, len(candidateRefs))
	found := make([]bool, len(candidateRefs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.opts.Concurrency, 1))
	for i, ref := range candidateRefs {
		g.Go(func() error {
			c, err := m.resolve(gctx, ref)
			if errors.Is(err, tokens.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve %q: %w", ref, err)
			}
			sims[i] = SymmetricMaxSim(q, c)
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(candidateRefs))
	for i, ref := range candidateRefs {
		if found[i] {
			out[ref] = sims[i]
		}
	}
	return out, nil
}

// MaxSimScore returns the mean over tokens of a of the best dot product with b.
func MaxSimScore(a, b [][]float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var sum float64
	for _, ta := range a {
		best, found := float32(0), false
		for _, tb := range b {
			if len(ta) != len(tb) {
				continue
			}
			if s := distance.Dot(ta, tb); !found || s > best {
				best, found = s, true
			}
		}
		sum += float64(best)
	}
	return sum / float64(len(a))
}

// SymmetricMaxSim returns the mean of MaxSimScore(a, b) and MaxSimScore(b, a).
func SymmetricMaxSim(a, b [][]float32) float64 {
	return (MaxSimScore(a, b) + MaxSimScore(b, a)) / 2
}
