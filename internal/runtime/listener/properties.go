package listener

import (
	"time"

	"github.com/drblury/natsflow/internal/runtime/config"
)

// ContainerProperties configures one listener container. The subject list
// is fixed at construction.
type ContainerProperties struct {
	subjects []string

	// Listener must be set before the container starts.
	Listener MessageListener
	// ErrorHandler defaults to a LoggingErrorHandler when nil.
	ErrorHandler ErrorHandler
	// ShutdownTimeout bounds how long AwaitIdle waits when its context has
	// no deadline.
	ShutdownTimeout time.Duration
}

// NewContainerProperties copies subjects and applies the default shutdown timeout.
func NewContainerProperties(subjects ...string) *ContainerProperties {
	return &ContainerProperties{
		subjects:        append([]string(nil), subjects...),
		ShutdownTimeout: config.DefaultShutdownTimeout,
	}
}

// Subjects returns a copy of the configured subjects in declaration order.
func (p *ContainerProperties) Subjects() []string {
	return append([]string(nil), p.subjects...)
}

// CopyDefaultsFrom takes every shared setting from defaults except the
// subjects and the listener, which always belong to the endpoint.
func (p *ContainerProperties) CopyDefaultsFrom(defaults *ContainerProperties) {
	if defaults == nil {
		return
	}
	p.ErrorHandler = defaults.ErrorHandler
	p.ShutdownTimeout = defaults.ShutdownTimeout
}
