package oracle

import (
	"sync"
	"time"
)

// breaker opens after a run of consecutive failures. While open it admits
// a single probe per interval; a successful probe closes it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	interval  time.Duration
	now       func() time.Time

	failures  int
	open      bool
	probing   bool
	lastProbe time.Time
}

func (b *breaker) allow() (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true, false
	}
	if b.probing || b.now().Sub(b.lastProbe) < b.interval {
		return false, false
	}
	b.probing = true
	b.lastProbe = b.now()
	return true, true
}

// success reports whether the breaker closed.
func (b *breaker) success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.open {
		b.open = false
		return true
	}
	return false
}

// failure reports whether the breaker opened.
func (b *breaker) failure(probe bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if probe {
		b.probing = false
		b.lastProbe = b.now()
		return false
	}
	if !b.open && b.failures >= b.threshold {
		b.open = true
		b.lastProbe = b.now()
		return true
	}
	return false
}

func (b *breaker) closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}
