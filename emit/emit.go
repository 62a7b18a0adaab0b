package emit

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hupe1980/fishdbc/model"
)

// Emitter delivers assignment batches. Emit must be safe to retry with the
// same batch.
type Emitter interface {
	Emit(ctx context.Context, batch []model.Assignment) error
	Close() error
}

// Func adapts a function to the Emitter interface.
type Func func(ctx context.Context, batch []model.Assignment) error

// Emit calls f.
func (f Func) Emit(ctx context.Context, batch []model.Assignment) error { return f(ctx, batch) }

// Close is a no-op.
func (Func) Close() error { return nil }

// Discard drops every batch.
var Discard Emitter = Func(func(context.Context, []model.Assignment) error { return nil })

// Multi fans out batches to all emitters. Every emitter is attempted; the
// joined error of the failures is returned.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, batch []model.Assignment) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps the latest assignment per point, applying the same
// sequence-guarded upsert a durable sink would.
type Memory struct {
	mu      sync.RWMutex
	latest  map[string]model.Assignment
	batches int
	records int
}

// NewMemory creates an empty Memory emitter.
func NewMemory() *Memory {
	return &Memory{latest: make(map[string]model.Assignment)}
}

// Emit implements Emitter.
func (m *Memory) Emit(_ context.Context, batch []model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	m.records += len(batch)
	for _, a := range batch {
		if cur, ok := m.latest[a.PointID]; ok && cur.Seq > a.Seq {
			continue
		}
		m.latest[a.PointID] = a
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Get returns the latest assignment of a point.
func (m *Memory) Get(pointID string) (model.Assignment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.latest[pointID]
	return a, ok
}

// All returns the latest assignments sorted by point ID.
func (m *Memory) All() []model.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Assignment, 0, len(m.latest))
	for _, a := range m.latest {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.Assignment) int {
		switch {
		case a.PointID < b.PointID:
			return -1
		case a.PointID > b.PointID:
			return 1
		}
		return 0
	})
	return out
}

// Stats returns the number of batches and records received.
func (m *Memory) Stats() (batches, records int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches, m.records
}
