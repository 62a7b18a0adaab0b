// Package mqtt provides an emit.Emitter that publishes each assignment as an
// MQTT 5 message on "<prefix>/<point_id>" with QoS 1 (at-least-once).
//
//	pub, err := mqtt.Dial(ctx, mqtt.Options{
//	    URL:         "mqtt://localhost:1883",
//	    TopicPrefix: "fishdbc/assignments",
//	})
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/hupe1980/fishdbc/codec"
	"github.com/hupe1980/fishdbc/model"
)

const (
	defaultKeepAlive         = 20
	defaultConnectRetryDelay = 3 * time.Second
	defaultTopicPrefix       = "fishdbc/assignments"
)

// QoS is the MQTT Quality of Service.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// Options configures Dial.
type Options struct {
	// URL of the broker, e.g. "mqtt://host:1883" or "mqtts://host:8883".
	URL string
	// ClientID defaults to a random identifier.
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// QoS defaults to AtLeastOnce.
	QoS QoS
	// Retain keeps the latest assignment per point on the broker.
	Retain bool
	// Codec encodes payloads. Defaults to codec.JSON.
	Codec             codec.Codec
	KeepAlive         uint16
	ConnectRetryDelay time.Duration
	ConnectTimeout    time.Duration
	// OnConnectError is called when a connection attempt fails.
	OnConnectError func(error)
}

// publisher is the subset of autopaho.ConnectionManager used by Publisher.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
}

// Publisher is an emit.Emitter publishing to an MQTT broker.
type Publisher struct {
	pub    publisher
	prefix string
	qos    QoS
	retain bool
	codec  codec.Codec
}

func (o *Options) setDefaults() {
	if o.TopicPrefix == "" {
		o.TopicPrefix = defaultTopicPrefix
	}
	if o.QoS == AtMostOnce {
		o.QoS = AtLeastOnce
	}
	if o.Codec == nil {
		o.Codec = codec.JSON{}
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectRetryDelay == 0 {
		o.ConnectRetryDelay = defaultConnectRetryDelay
	}
}

// Dial connects to the broker and waits until the first connection is up.
// Reconnection afterwards is handled in the background.
func Dial(ctx context.Context, opts Options) (*Publisher, error) {
	opts.setDefaults()

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse url: %w", err)
	}
	id := opts.ClientID
	if id == "" {
		var b [12]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, err
		}
		id = "fishdbc-" + base64.RawURLEncoding.EncodeToString(b[:])
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     opts.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             opts.ConnectRetryDelay,
		ConnectTimeout:                opts.ConnectTimeout,
		OnConnectError:                opts.OnConnectError,
		ConnectUsername:               opts.Username,
		ConnectPassword:               []byte(opts.Password),
		ClientConfig: paho.ClientConfig{
			ClientID: id,
		},
	}

	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, err
	}
	return newPublisher(cm, opts), nil
}

func newPublisher(pub publisher, opts Options) *Publisher {
	opts.setDefaults()
	return &Publisher{
		pub:    pub,
		prefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		qos:    opts.QoS,
		retain: opts.Retain,
		codec:  opts.Codec,
	}
}

// Topic returns the topic an assignment for pointID is published on.
func (p *Publisher) Topic(pointID string) string {
	return p.prefix + "/" + escapeTopic(pointID)
}

// escapeTopic replaces the characters MQTT reserves in topic names.
func escapeTopic(s string) string {
	return strings.NewReplacer("/", "%2F", "+", "%2B", "#", "%23").Replace(s)
}

// Emit publishes every assignment of the batch. It stops at the first error;
// the caller retries the whole batch.
func (p *Publisher) Emit(ctx context.Context, batch []model.Assignment) error {
	for _, a := range batch {
		payload, err := p.codec.Marshal(a)
		if err != nil {
			return fmt.Errorf("mqtt: encode %s: %w", a.PointID, err)
		}
		msg := &paho.Publish{
			Topic:   p.Topic(a.PointID),
			QoS:     byte(p.qos),
			Retain:  p.retain,
			Payload: payload,
			Properties: &paho.PublishProperties{
				ContentType: p.codec.Name(),
			},
		}
		resp, err := p.pub.Publish(ctx, msg)
		if err != nil {
			return fmt.Errorf("mqtt: publish %s: %w", a.PointID, err)
		}
		if resp != nil && resp.ReasonCode >= 0x80 {
			return fmt.Errorf("mqtt: publish %s: %w", a.PointID, &ReasonError{Code: resp.ReasonCode})
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.pub.Disconnect(ctx)
	if errors.Is(err, autopaho.ConnectionDownError) {
		return nil
	}
	return err
}

// ReasonError is returned when the broker rejects a publish.
type ReasonError struct {
	Code byte
}

func (e *ReasonError) Error() string {
	return fmt.Sprintf("broker rejected publish with reason code 0x%02x", e.Code)
}
