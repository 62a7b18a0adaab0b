package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for managed memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentCalls is the maximum number of concurrent precise calls.
	// If 0, defaults to 1.
	MaxConcurrentCalls int64

	// CallsPerSecond limits the rate of precise calls.
	// If 0, unlimited.
	CallsPerSecond float64

	// Burst is the token bucket size. Defaults to MaxConcurrentCalls.
	Burst int
}

// Controller manages rescoring resources.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Concurrency
	callSem  *semaphore.Weighted
	inFlight atomic.Int64

	// Rate
	limiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MaxConcurrentCalls)
	}

	c := &Controller{
		cfg:     cfg,
		callSem: semaphore.NewWeighted(cfg.MaxConcurrentCalls),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.CallsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.Burst)
	}

	return c
}

// TryAcquireMemory attempts to reserve memory without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	return c.AcquireMemory(bytes) == nil
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireCall waits for a concurrency slot and a rate token.
// The slot must be returned with ReleaseCall.
func (c *Controller) AcquireCall(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.callSem.Acquire(ctx, 1); err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.callSem.Release(1)
			return err
		}
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireCall reserves a slot without blocking.
func (c *Controller) TryAcquireCall() bool {
	if c == nil {
		return true
	}
	if !c.callSem.TryAcquire(1) {
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.callSem.Release(1)
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseCall returns a slot acquired with AcquireCall or TryAcquireCall.
func (c *Controller) ReleaseCall() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.callSem.Release(1)
}

// InFlight returns the number of calls holding a slot.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}
