package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/fishdbc/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]BlobStore {
	return map[string]BlobStore{
		"local":   NewLocalStore(filepath.Join(t.TempDir(), "blobs")),
		"memory":  NewMemoryStore(),
		"caching": NewCachingStore(NewMemoryStore(), 1<<20, nil),
	}
}

func TestBlobStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)

			_, err = store.Open(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			data := []byte("hello world, this is a snapshot blob")
			require.NoError(t, store.Put(ctx, "snapshot-2", data))
			require.NoError(t, store.Put(ctx, "snapshot-1", []byte("older")))
			require.NoError(t, store.Put(ctx, "other", []byte("x")))

			blob, err := store.Open(ctx, "snapshot-2")
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), blob.Size())

			buf := make([]byte, 5)
			n, err := blob.ReadAt(ctx, buf, 6)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
			assert.Equal(t, "world", string(buf))
			require.NoError(t, blob.Close())

			got, err := ReadAll(ctx, store, "snapshot-2")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			names, err = store.List(ctx, "snapshot-")
			require.NoError(t, err)
			assert.Equal(t, []string{"snapshot-1", "snapshot-2"}, names)

			require.NoError(t, store.Put(ctx, "snapshot-2", []byte("replaced")))
			got, err = ReadAll(ctx, store, "snapshot-2")
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(got))

			require.NoError(t, store.Delete(ctx, "snapshot-2"))
			require.NoError(t, store.Delete(ctx, "snapshot-2"))
			_, err = store.Open(ctx, "snapshot-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLocalStore_FailedPutLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	ffs := fs.NewFaultyFS(nil)
	store := NewLocalStoreFS(root, ffs)

	ffs.AddRule(fs.TmpSuffix, fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	err := store.Put(ctx, "snap", []byte("payload"))
	require.ErrorIs(t, err, fs.ErrInjected)

	ffs.ClearRules()
	ffs.AddRule(fs.TmpSuffix, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	err = store.Put(ctx, "snap", []byte("payload"))
	require.ErrorIs(t, err, fs.ErrInjected)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a", []byte{0x00, 0x01}))

	assert.True(t, store.Corrupt("a", 1))
	assert.False(t, store.Corrupt("a", 5))
	assert.False(t, store.Corrupt("b", 0))

	got, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xFE}, got)
}

func TestCachingStore_Hits(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachingStore(inner, 1<<10, nil)

	require.NoError(t, store.Put(ctx, "a", []byte("alpha")))

	for range 3 {
		got, err := ReadAll(ctx, store, "a")
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(got))
	}

	hits, misses := store.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	// Writes through the cache invalidate the cached copy.
	require.NoError(t, store.Put(ctx, "a", []byte("beta")))
	got, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "beta", string(got))
}
