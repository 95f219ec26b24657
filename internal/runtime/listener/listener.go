// Package listener holds the message listener contracts and the listener
// container that subscribes them to subjects.
package listener

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// MessageListener is invoked once per inbound message. A returned error is
// routed to the container's ErrorHandler; the container keeps running.
type MessageListener interface {
	OnMessage(ctx context.Context, msg *nats.Msg) error
}

// MessageListenerFunc adapts a plain function to MessageListener.
type MessageListenerFunc func(ctx context.Context, msg *nats.Msg) error

func (f MessageListenerFunc) OnMessage(ctx context.Context, msg *nats.Msg) error {
	return f(ctx, msg)
}

// ExecutionError wraps a failure raised while a listener handled a message.
type ExecutionError struct {
	ContainerID string
	Subject     string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("natsflow: listener of container %q failed on subject %q: %v", e.ContainerID, e.Subject, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking listener.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("natsflow: listener panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
