package pointlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/model"
)

func rec(seq uint64, id string) model.SequencedRecord {
	return model.SequencedRecord{Seq: seq, Record: model.Record{ID: id, Coarse: []float32{float32(seq)}, PreciseRef: id}}
}

func collect(t *testing.T, l *Log, after uint64) []model.SequencedRecord {
	t.Helper()
	var out []model.SequencedRecord
	require.NoError(t, l.Replay(context.Background(), after, func(r model.SequencedRecord) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestLog_AppendReplay(t *testing.T) {
	ctx := context.Background()
	l, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, uint64(0), l.LastSeq())
	require.NoError(t, l.Append(ctx, []model.SequencedRecord{rec(1, "a"), rec(2, "b")}))
	require.NoError(t, l.Append(ctx, []model.SequencedRecord{rec(300, "a")}))
	assert.Equal(t, uint64(300), l.LastSeq())

	all := collect(t, l, 0)
	require.Len(t, all, 3)
	assert.Equal(t, rec(1, "a"), all[0])
	assert.Equal(t, rec(300, "a"), all[2])

	tail := collect(t, l, 2)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(300), tail[0].Seq)

	err = l.Append(ctx, []model.SequencedRecord{rec(300, "c")})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestLog_ReplayStops(t *testing.T) {
	ctx := context.Background()
	l, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(ctx, []model.SequencedRecord{rec(1, "a"), rec(2, "b")}))
	stop := errors.New("stop")
	n := 0
	err = l.Replay(ctx, 0, func(model.SequencedRecord) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestLog_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, []model.SequencedRecord{rec(7, "a"), rec(9, "b")}))
	require.NoError(t, l.Close())

	l, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, uint64(9), l.LastSeq())
	assert.Len(t, collect(t, l, 0), 2)
}
