// Package natsflow runs message listeners on NATS subjects inside managed
// listener containers.
//
// An Endpoint binds a MessageListener to one or more subjects. The
// Registrar buffers endpoints until the Service starts, resolves a
// ContainerFactory for each of them and hands them to the EndpointRegistry,
// which owns the resulting containers and drives their lifecycle: start in
// registration order, stop with an aggregated callback, dispose on shutdown.
// All containers share one transport connection handed out by the
// connection provider; closing it from a listener is a no-op.
//
// A minimal setup fills Config (or calls LoadConfig), creates a Service,
// registers listeners with RegisterListener, RegisterJSONListener or
// RegisterProtoListener, and calls Start. Template publishes raw bytes,
// strings, protobuf or JSON payloads to subjects.
//
// # Transports
//
// Config.Transport names a builder from the transport registry:
//   - nats: core NATS through nats.go
//   - nats-jetstream: JetStream stream with one ephemeral consumer per subscription
//   - watermill-nats: NATS through the Watermill publisher/subscriber pair
//   - channel: in-memory Go channels for tests
//
// Import github.com/drblury/natsflow/transport/transports to register all of
// them, or a single transport package for just that one.
//
// # Errors
//
// A listener error or panic is routed to the container's ErrorHandler and
// never stops delivery. Wrap an error handler's result with Fatal to make the
// container re-raise it instead of logging it.
package natsflow
