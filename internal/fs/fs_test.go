package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	require.NoError(t, f.Close())

	renamed := filepath.Join(dir, "renamed.txt")
	require.NoError(t, lfs.Rename(fpath, renamed))

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "renamed.txt", entries[0].Name())

	require.NoError(t, lfs.Remove(renamed))
	_, err = lfs.Stat(renamed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFaultyFS(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)

	t.Run("WriteLimit", func(t *testing.T) {
		ffs.AddRule("limited", Fault{FailAfterBytes: 4})
		f, err := ffs.OpenFile(filepath.Join(tmp, "limited.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abcd"))
		require.NoError(t, err)
		_, err = f.Write([]byte("e"))
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("Sync", func(t *testing.T) {
		ffs.AddRule("nosync", Fault{FailAfterBytes: -1, FailOnSync: true})
		f, err := ffs.OpenFile(filepath.Join(tmp, "nosync.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Sync(), ErrInjected)
	})

	t.Run("Rename", func(t *testing.T) {
		ffs.AddRule("stuck", Fault{FailAfterBytes: -1, FailOnRename: true})
		path := filepath.Join(tmp, "stuck.bin")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		assert.ErrorIs(t, ffs.Rename(path, filepath.Join(tmp, "moved.bin")), ErrInjected)
	})

	t.Run("ClearRules", func(t *testing.T) {
		ffs.ClearRules()
		f, err := ffs.OpenFile(filepath.Join(tmp, "nosync2.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()
		assert.NoError(t, f.Sync())
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")

	require.NoError(t, WriteFileAtomic(Default, dir, "a.bin", []byte("payload")))
	data, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	t.Run("FailedSyncLeavesNothing", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("b.bin", Fault{FailAfterBytes: -1, FailOnSync: true})

		err := WriteFileAtomic(ffs, dir, "b.bin", []byte("lost"))
		require.ErrorIs(t, err, ErrInjected)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.bin", entries[0].Name())
	})
}
