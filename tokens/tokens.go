// Package tokens stores precise representations: per-token embedding
// matrices addressed by a point's precise reference.
package tokens

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned when a reference cannot be resolved.
var ErrNotFound = errors.New("tokens: reference not found")

// Store resolves precise references to token matrices.
type Store interface {
	// Get returns the token vectors stored under ref.
	Get(ctx context.Context, ref string) ([][]float32, error)
	// Put stores the token vectors under ref, replacing earlier content.
	Put(ctx context.Context, ref string, tokens [][]float32) error
	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][][]float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][][]float32)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ref string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	toks, ok := s.data[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return toks, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, ref string, tokens [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([][]float32, len(tokens))
	for i, t := range tokens {
		cp[i] = slices.Clone(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = cp
	return nil
}

// Len returns the number of stored references.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Cost estimates the memory held by a token matrix in bytes.
func Cost(tokens [][]float32) int64 {
	n := int64(24 * len(tokens))
	for _, t := range tokens {
		n += int64(4 * len(t))
	}
	return n
}
