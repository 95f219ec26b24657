// Package channel provides an in-memory Go channel transport for natsflow.
// Subjects match exactly; wildcards are not interpreted. Useful for tests
// and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/natsflow/transport"
	wmconn "github.com/drblury/natsflow/transport/watermill"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer sizes each subscriber's channel.
const OutputBuffer = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a connection backed by a fresh GoChannel.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return wmconn.NewConn(pub, sub, transport.ChannelCapabilities, logger), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
