// Package nats provides the NATS transports for natsflow: the core client
// connection ("nats") and a Watermill based variant ("watermill-nats").
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/transport"
)

// TransportName is the name used to register the core NATS transport.
const TransportName = "nats"

// Connector allows overriding the client connection for testing.
var Connector = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register adds both NATS transports to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(WatermillTransportName, BuildWatermill, transport.WatermillNATSCapabilities)
}

// Build dials the configured servers with the config's client options plus
// connection event logging.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := append(cfg.NATSOptions(), transport.NATSEventOptions(logger)...)
	nc, err := Connector(cfg.GetNATSURL(), opts...)
	if err != nil {
		return nil, err
	}
	return NewConn(nc), nil
}

// Capabilities returns the capabilities of the core transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Conn adapts a *nats.Conn to transport.Conn.
type Conn struct {
	nc *nats.Conn
}

// NewConn wraps an established client connection.
func NewConn(nc *nats.Conn) *Conn {
	return &Conn{nc: nc}
}

// NATS exposes the underlying client for features outside transport.Conn.
func (c *Conn) NATS() *nats.Conn { return c.nc }

func (c *Conn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, nats.MsgHandler(handler))
	if err != nil {
		return nil, err
	}
	return subscription{sub: sub}, nil
}

func (c *Conn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *Conn) PublishMsg(msg *nats.Msg) error {
	return c.nc.PublishMsg(msg)
}

func (c *Conn) Flush() error { return c.nc.Flush() }

func (c *Conn) Close() { c.nc.Close() }

func (c *Conn) IsClosed() bool { return c.nc.IsClosed() }

func (c *Conn) Capabilities() transport.Capabilities { return transport.NATSCapabilities }

type subscription struct {
	sub *nats.Subscription
}

func (s subscription) Subject() string    { return s.sub.Subject }
func (s subscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s subscription) IsValid() bool      { return s.sub.IsValid() }
