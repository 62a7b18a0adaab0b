package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/eclipse/paho.golang/paho"
	"github.com/hupe1980/fishdbc/codec"
	"github.com/hupe1980/fishdbc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	published []*paho.Publish
	failAt    int
	reason    byte
	closed    bool
}

func (f *fakeBroker) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.failAt > 0 && len(f.published)+1 == f.failAt {
		return nil, errors.New("connection lost")
	}
	f.published = append(f.published, p)
	return &paho.PublishResponse{ReasonCode: f.reason}, nil
}

func (f *fakeBroker) Disconnect(context.Context) error {
	f.closed = true
	return nil
}

func TestPublisher_Emit(t *testing.T) {
	broker := &fakeBroker{}
	p := newPublisher(broker, Options{TopicPrefix: "mail/clusters/", Retain: true})

	batch := []model.Assignment{
		{PointID: "msg-1", ClusterID: 4, Probability: 0.8, Seq: 1},
		{PointID: "inbox/msg#2", ClusterID: model.Noise, Seq: 2, Degraded: true},
	}
	require.NoError(t, p.Emit(context.Background(), batch))
	require.Len(t, broker.published, 2)

	first := broker.published[0]
	assert.Equal(t, "mail/clusters/msg-1", first.Topic)
	assert.Equal(t, byte(AtLeastOnce), first.QoS)
	assert.True(t, first.Retain)
	assert.Equal(t, "json", first.Properties.ContentType)

	var got model.Assignment
	require.NoError(t, codec.JSON{}.Unmarshal(first.Payload, &got))
	assert.Equal(t, batch[0], got)

	assert.Equal(t, "mail/clusters/inbox%2Fmsg%232", broker.published[1].Topic)

	require.NoError(t, p.Close())
	assert.True(t, broker.closed)
}

func TestPublisher_Errors(t *testing.T) {
	batch := []model.Assignment{{PointID: "a", Seq: 1}, {PointID: "b", Seq: 2}}

	t.Run("Transport", func(t *testing.T) {
		broker := &fakeBroker{failAt: 2}
		p := newPublisher(broker, Options{})
		err := p.Emit(context.Background(), batch)
		require.Error(t, err)
		assert.Len(t, broker.published, 1)
	})

	t.Run("Rejected", func(t *testing.T) {
		broker := &fakeBroker{reason: 0x87}
		p := newPublisher(broker, Options{Codec: codec.Msgpack{}})
		err := p.Emit(context.Background(), batch)
		var re *ReasonError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, byte(0x87), re.Code)
	})
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), Options{URL: "://bad"})
	assert.Error(t, err)
}
