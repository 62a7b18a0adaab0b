package emit

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/fishdbc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SequenceGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Emit(ctx, []model.Assignment{
		{PointID: "a", ClusterID: 1, Probability: 1, Seq: 5},
		{PointID: "b", ClusterID: model.Noise, Seq: 2},
	}))
	// A stale replay must not overwrite the newer version.
	require.NoError(t, m.Emit(ctx, []model.Assignment{{PointID: "a", ClusterID: 2, Seq: 3}}))

	a, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.ClusterID(1), a.ClusterID)

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].PointID)

	batches, records := m.Stats()
	assert.Equal(t, 2, batches)
	assert.Equal(t, 3, records)
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	m1, m2 := NewMemory(), NewMemory()
	multi := Multi{m1, Func(func(context.Context, []model.Assignment) error { return boom }), m2}

	err := multi.Emit(ctx, []model.Assignment{{PointID: "x", Seq: 1}})
	assert.ErrorIs(t, err, boom)

	_, ok := m1.Get("x")
	assert.True(t, ok)
	_, ok = m2.Get("x")
	assert.True(t, ok)
	assert.NoError(t, multi.Close())
}

func TestOutbox_RetryUntilAccepted(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox()

	fail := true
	var delivered [][]model.Assignment
	e := Func(func(_ context.Context, b []model.Assignment) error {
		if fail {
			return errors.New("sink down")
		}
		delivered = append(delivered, b)
		return nil
	})

	o.Add(model.Assignment{PointID: "b", Seq: 2}, model.Assignment{PointID: "a", Seq: 1})
	n, err := o.Flush(ctx, e)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, o.Len())

	// A newer version replaces the pending one.
	o.Add(model.Assignment{PointID: "a", ClusterID: 3, Seq: 4})

	fail = false
	n, err = o.Flush(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, o.Len())

	require.Len(t, delivered, 1)
	assert.Equal(t, []model.Assignment{
		{PointID: "b", Seq: 2},
		{PointID: "a", ClusterID: 3, Seq: 4},
	}, delivered[0])

	n, err = o.Flush(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
