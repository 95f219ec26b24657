// Package jetstream provides a NATS JetStream transport for natsflow.
// Subscriptions are ephemeral push consumers on one configured stream;
// every delivered message is acked after the listener container returns.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "NATSFLOW"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second
	defaultMaxAge     = 7 * 24 * time.Hour
)

// Connector allows overriding the client connection for testing.
var Connector = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build connects to the configured servers with connection event logging
// and makes sure the stream exists.
// Stream settings come from cfg when it implements transport.StreamConfig.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var settings transport.StreamSettings
	if sc, ok := cfg.(transport.StreamConfig); ok {
		settings = sc.GetStreamSettings()
	}

	opts := append(cfg.NATSOptions(), transport.NATSEventOptions(logger)...)
	nc, err := Connector(cfg.GetNATSURL(), opts...)
	if err != nil {
		return nil, err
	}
	conn, err := New(nc, settings, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

func withDefaults(s transport.StreamSettings) transport.StreamSettings {
	if s.Name == "" {
		s.Name = DefaultStreamName
	}
	if len(s.Subjects) == 0 {
		s.Subjects = []string{s.Name + ".>"}
	}
	if s.Replicas <= 0 {
		s.Replicas = 1
	}
	if s.MaxDeliver <= 0 {
		s.MaxDeliver = DefaultMaxDeliver
	}
	if s.AckWait <= 0 {
		s.AckWait = DefaultAckWait
	}
	return s
}

func retention(policy string) nats.RetentionPolicy {
	switch strings.ToLower(policy) {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Conn publishes into and subscribes from a JetStream stream.
type Conn struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	settings transport.StreamSettings
	logger   watermill.LoggerAdapter
}

// New wraps an established client connection and creates or updates the stream.
func New(nc *nats.Conn, settings transport.StreamSettings, logger watermill.LoggerAdapter) (*Conn, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	c := &Conn{
		nc:       nc,
		js:       js,
		settings: withDefaults(settings),
		logger:   logger.With(watermill.LogFields{"transport": TransportName}),
	}
	if err := c.ensureStream(); err != nil {
		return nil, fmt.Errorf("failed to ensure stream %q: %w", c.settings.Name, err)
	}
	return c, nil
}

func (c *Conn) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      c.settings.Name,
		Subjects:  c.settings.Subjects,
		Retention: retention(c.settings.Retention),
		Replicas:  c.settings.Replicas,
		MaxAge:    defaultMaxAge,
	}

	_, err := c.js.StreamInfo(c.settings.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = c.js.AddStream(streamCfg)
		return err
	case err != nil:
		return err
	}

	if _, err := c.js.UpdateStream(streamCfg); err != nil {
		// an incompatible existing stream is still usable as is
		c.logger.Info("JetStream stream kept with its existing configuration", watermill.LogFields{
			"stream": c.settings.Name,
			"error":  err.Error(),
		})
	}
	return nil
}

// Stream returns the effective stream settings.
func (c *Conn) Stream() transport.StreamSettings { return c.settings }

// NATS exposes the underlying client.
func (c *Conn) NATS() *nats.Conn { return c.nc }

// Subscribe creates an ephemeral consumer for subject that only sees
// messages published after the subscription.
func (c *Conn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	if handler == nil {
		return nil, errors.New("natsflow: message handler is required")
	}
	sub, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg)
		if err := msg.Ack(); err != nil {
			c.logger.Error("Failed to ack JetStream message", err, watermill.LogFields{"subject": msg.Subject})
		}
	},
		nats.BindStream(c.settings.Name),
		nats.ManualAck(),
		nats.DeliverNew(),
		nats.AckWait(c.settings.AckWait),
		nats.MaxDeliver(c.settings.MaxDeliver),
	)
	if err != nil {
		return nil, err
	}
	return subscription{sub: sub, subject: subject}, nil
}

// Publish waits for the stream acknowledgement.
func (c *Conn) Publish(subject string, data []byte) error {
	_, err := c.js.Publish(subject, data)
	return err
}

func (c *Conn) PublishMsg(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("natsflow: message is required")
	}
	_, err := c.js.PublishMsg(msg)
	return err
}

func (c *Conn) Flush() error { return c.nc.Flush() }

func (c *Conn) Close() { c.nc.Close() }

func (c *Conn) IsClosed() bool { return c.nc.IsClosed() }

func (c *Conn) Capabilities() transport.Capabilities { return transport.NATSJetStreamCapabilities }

type subscription struct {
	sub     *nats.Subscription
	subject string
}

func (s subscription) Subject() string    { return s.subject }
func (s subscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s subscription) IsValid() bool      { return s.sub.IsValid() }
