/*
Package runtime hosts the listener-container runtime behind natsflow.

# Architecture Overview

Every subject binding is an Endpoint. Endpoints reach the EndpointRegistry
through the Registrar, which buffers them until the Service starts and then
resolves a ContainerFactory for each one: the factory given with the
endpoint, the registrar default, or a factory looked up by name
(DefaultContainerFactoryName). The registry owns the containers the factory
builds and drives their lifecycle.

# Package Structure

## Core Service (service.go)

The Service wires the connection provider, the DefaultContainerFactory, the
registry, the registrar and the Template, and runs them in order: provider
start, registrar flush, registry start, admin API. Shutdown stops every
container with an aggregated callback, disposes them and tears the shared
connection down.

## Registry and Registrar (registry.go, registrar.go)

  - registry.go: id lookup, phase agreement, groups, start/stop in
    registration order, StopWithCallback with a countdown
  - registrar.go: pending endpoint buffer and factory resolution

## Registration helpers (registration*.go)

  - registration.go: untyped listeners
  - registration_json.go: typed JSON listeners
  - registration_proto.go: typed Protocol Buffer listeners

## Publishing (template.go)

Template converts payloads to bytes and publishes them, injecting the
OpenTelemetry trace context into message headers.

## Admin API (admin.go)

HTTP API for inspecting and starting or stopping containers and groups.

# Sub-packages

  - config/: Service configuration with validation and loading
  - connection/: shared connection provider with close-safe wrapper
  - embedded/: in-process NATS server
  - errors/: sentinel errors and error types
  - ids/: ULID based endpoint ids
  - listener/: listener contracts, containers, hooks and metrics
  - logging/: logger interface and adapters
  - codec/: payload encoding

# Usage Example

	cfg := natsflow.DefaultConfig()
	cfg.URL = "nats://localhost:4222"

	svc, err := natsflow.NewService(cfg, logger, natsflow.ServiceDependencies{})
	if err != nil {
		return err
	}

	err = natsflow.RegisterProtoListener(ctx, svc, natsflow.ProtoListenerRegistration[*pb.OrderCreated]{
		Subjects: []string{"orders.created"},
		Handler:  processOrder,
	})

	svc.Start(ctx)
*/
package runtime
