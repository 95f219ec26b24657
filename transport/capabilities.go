package transport

// Capabilities describes what a transport backend offers to listener
// containers.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsWildcards indicates subjects may use the `*` and `>` tokens.
	SupportsWildcards bool

	// SupportsHeaders indicates message headers survive the round trip.
	SupportsHeaders bool

	// SupportsReply indicates reply subjects are delivered to listeners.
	SupportsReply bool

	// SupportsOrdering indicates messages from one publisher arrive in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers.
	SupportsTracing bool

	// InMemory indicates messages never leave the process.
	InMemory bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsRequestReply reports whether listeners can answer requests.
func (c Capabilities) SupportsRequestReply() bool {
	return c.SupportsReply && c.SupportsHeaders
}

var (
	// NATSCapabilities for the core NATS client transport.
	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsWildcards: true,
		SupportsHeaders:   true,
		SupportsReply:     true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576, // server default 1MB
	}

	// WatermillNATSCapabilities for NATS reached through watermill-nats.
	WatermillNATSCapabilities = Capabilities{
		Name:              "watermill-nats",
		SupportsWildcards: true,
		SupportsHeaders:   true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576,
	}

	// NATSJetStreamCapabilities for subscriptions backed by a JetStream stream.
	NATSJetStreamCapabilities = Capabilities{
		Name:              "nats-jetstream",
		SupportsWildcards: true,
		SupportsHeaders:   true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsHeaders:  true,
		SupportsOrdering: true,
		InMemory:         true,
	}
)
