package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/internal/hnsw"
	"github.com/hupe1980/fishdbc/internal/mst"
	"github.com/hupe1980/fishdbc/internal/reach"
	"github.com/hupe1980/fishdbc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	return &State{
		CreatedAt: 1700000000,
		Config:    Config{Dimension: 2, Metric: "cosine", M: 16, EF: 200, KRescale: 10, MinSamples: 3, MinClusterSize: 3},
		Seq:       4,
		Rebuilds:  1,
		Points: []Point{
			{ID: "a", Ref: "a", Seq: 1, First: 1},
			{ID: "b", Ref: "b", Seq: 2, First: 2},
			{ID: "c", Ref: "c", Seq: 4, First: 3},
		},
		Index: hnsw.State{
			Nodes: []hnsw.NodeState{
				{Level: 0, Vector: []float32{1, 0}, Links: [][]hnsw.Neighbor{{{ID: 1, Dist: 0.1}}}},
				{Level: 0, Vector: []float32{0.9, 0.1}, Links: [][]hnsw.Neighbor{{{ID: 0, Dist: 0.1}}}},
				{Level: 0, Vector: []float32{0, 1}},
			},
		},
		Reach: reach.State{Lists: [][]reach.Entry{
			{{ID: 1, Distance: 0.01}},
			{{ID: 0, Distance: 0.01}},
			{{ID: 0, Distance: 0.9, Degraded: true}},
		}},
		Forest: []mst.Edge{{A: 0, B: 1, Weight: 0.01}, {A: 0, B: 2, Weight: 0.9, Degraded: true}},
		Dendrogram: []model.Merge{
			{Left: 0, Right: 1, Distance: 0.01, Size: 2},
			{Left: 2, Right: 3, Distance: model.Infinity, Size: 3},
		},
		Emitted: []model.Assignment{
			{PointID: "a", ClusterID: 1, Probability: 1, Seq: 1},
			{PointID: "b", ClusterID: 1, Probability: 1, Seq: 2},
			{PointID: "c", ClusterID: model.Noise, Seq: 4},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			st := sampleState()
			data, err := Encode(st, c)
			require.NoError(t, err)

			got, h, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, Version, h.Version)
			assert.Equal(t, st, got)
		})
	}
}

func TestDecode_FailsClosed(t *testing.T) {
	data, err := Encode(sampleState(), CompressionZstd)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"Truncated", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"BadMagic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"HeaderBitFlip", func(b []byte) []byte { b[9] ^= 0x01; return b }},
		{"PayloadBitFlip", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
		{"TruncatedPayload", func(b []byte) []byte { return b[:len(b)-3] }},
		{"Appended", func(b []byte) []byte { return append(b, 0x00) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(bytes.Clone(data))
			_, _, err := Decode(buf)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSnapshotCorrupt)
		})
	}

	_, _, err = Decode(func() []byte { b := bytes.Clone(data); b[len(b)-1] ^= 0x01; return b }())
	var cm *ChecksumMismatchError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, "payload", cm.Section)
}

func TestDecode_InconsistentBody(t *testing.T) {
	st := sampleState()
	st.Forest = append(st.Forest, mst.Edge{A: 0, B: 9, Weight: 1})
	data, err := Encode(st, CompressionNone)
	require.NoError(t, err)

	_, _, err = Decode(data)
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestNames(t *testing.T) {
	a, b := Name(7), Name(12)
	assert.Less(t, a, b)

	seq, ok := ParseName(b)
	require.True(t, ok)
	assert.Equal(t, uint64(12), seq)

	for _, bad := range []string{"snapshot-12.fsnap", "other", "snapshot-00000000000000000012-nope.fsnap"} {
		_, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	_, err := Latest(ctx, store)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	st := sampleState()
	first, err := Write(ctx, store, st, CompressionZstd)
	require.NoError(t, err)

	st.Seq = 10
	second, err := Write(ctx, store, st, CompressionLZ4)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "snapshot-garbage", []byte("x")))

	latest, err := Latest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	got, h, err := Load(ctx, store, latest)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Seq)

	sum := Summarize(latest, h, got)
	assert.Equal(t, 3, sum.Points)
	assert.Equal(t, 1, sum.Clusters)
	assert.Equal(t, 1, sum.Noise)

	require.True(t, store.Corrupt(latest, HeaderSize+2))
	_, _, err = Load(ctx, store, latest)
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	removed, err := Prune(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, names)
	assert.NotEqual(t, first, second)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionZstd, "ZSTD": CompressionZstd, "lz4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}
