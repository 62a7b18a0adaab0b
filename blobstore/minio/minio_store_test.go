package minio

import (
	"context"
	"testing"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	ctx := context.Background()

	store, err := Connect(ctx, Options{
		Endpoint:     "localhost:9000",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "test-fishdbc",
		Prefix:       "test-prefix/",
		CreateBucket: true,
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "snapshot-1", data))

	blob, err := store.Open(ctx, "snapshot-1")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "minio", string(buf))
	require.NoError(t, blob.Close())

	got, err := blobstore.ReadAll(ctx, store, "snapshot-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "snapshot-")
	require.NoError(t, err)
	assert.Contains(t, names, "snapshot-1")

	require.NoError(t, store.Delete(ctx, "snapshot-1"))
	_, err = store.Open(ctx, "snapshot-1")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestConnect_Validation(t *testing.T) {
	_, err := Connect(context.Background(), Options{Bucket: "b"})
	assert.Error(t, err)
}
