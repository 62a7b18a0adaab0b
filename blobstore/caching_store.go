package blobstore

import (
	"context"

	"github.com/hupe1980/fishdbc/internal/cache"
	"github.com/hupe1980/fishdbc/internal/resource"
)

// CachingStore wraps a BlobStore and keeps recently read blobs in memory.
// Blobs are immutable once written, so a cached copy stays valid until the
// name is overwritten or deleted through this store.
type CachingStore struct {
	inner BlobStore
	cache *cache.LRU[string, []byte]
}

// NewCachingStore creates a new CachingStore holding at most capacityBytes.
func NewCachingStore(inner BlobStore, capacityBytes int64, rc *resource.Controller) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: cache.NewLRU[string, []byte](capacityBytes, func(b []byte) int64 { return int64(len(b)) }, rc),
	}
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return &memoryBlob{data: data}, nil
	}
	data, err := ReadAll(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data)
	return &memoryBlob{data: data}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Delete(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Delete(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}
