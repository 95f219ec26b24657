// Package transport defines the connection contract natsflow listener
// containers subscribe through. Each transport implementation lives in its
// own sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
)

// ErrConnectionClosed is returned by operations on a closed Conn.
var ErrConnectionClosed = errors.New("natsflow: transport connection closed")

// MsgHandler receives every message delivered to a subscription. Transports
// invoke it on their own dispatch goroutine.
type MsgHandler func(msg *nats.Msg)

// Subscription is one active subject interest on a Conn.
type Subscription interface {
	Subject() string
	Unsubscribe() error
	IsValid() bool
}

// Conn is the minimal NATS-style client connection the runtime needs.
type Conn interface {
	Subscribe(subject string, handler MsgHandler) (Subscription, error)
	Publish(subject string, data []byte) error
	PublishMsg(msg *nats.Msg) error
	Flush() error
	Close()
	IsClosed() bool
}

// Builder creates a connection from config. Each transport package
// provides one and registers it.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Conn, error)

// Config provides the values transports need without depending on the
// full config package.
type Config interface {
	// GetTransport returns the registered transport name.
	GetTransport() string
	// GetNATSURL returns the server URL list, comma separated.
	GetNATSURL() string
	// NATSOptions returns client options for nats.go based transports.
	NATSOptions() []nats.Option
}

// StreamSettings configures stream backed transports such as nats-jetstream.
// Zero values select the transport defaults.
type StreamSettings struct {
	Name       string
	Subjects   []string
	Replicas   int
	Retention  string
	MaxDeliver int
	AckWait    time.Duration
}

// StreamConfig is implemented by configs that carry StreamSettings.
type StreamConfig interface {
	GetStreamSettings() StreamSettings
}

// CapabilitiesProvider is implemented by connections that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
