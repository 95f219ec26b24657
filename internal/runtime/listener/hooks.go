package listener

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/internal/runtime/logging"
)

// InvocationEvent describes one listener invocation to Hooks.
type InvocationEvent struct {
	Container string
	Subject   string
	Reply     string
	Header    nats.Header
	Context   context.Context
	StartedAt time.Time
	// Duration is only set for OnDone and OnError.
	Duration time.Duration
}

// Hooks observe listener invocations. Nil callbacks are skipped. Messages
// discarded by a filter strategy never reach the hooks.
type Hooks struct {
	OnStart func(ev InvocationEvent)
	OnDone  func(ev InvocationEvent)
	// OnError sees errors returned by the listener, and panics as
	// *PanicError, before the error handler.
	OnError func(ev InvocationEvent, err error)
}

// IsZero reports whether no callback is set.
func (h Hooks) IsZero() bool {
	return h.OnStart == nil && h.OnDone == nil && h.OnError == nil
}

// Merge returns hooks that call h first, then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chainEvent(h.OnStart, other.OnStart),
		OnDone:  chainEvent(h.OnDone, other.OnDone),
		OnError: chainError(h.OnError, other.OnError),
	}
}

func chainEvent(a, b func(InvocationEvent)) func(InvocationEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ev InvocationEvent) {
		a(ev)
		b(ev)
	}
}

func chainError(a, b func(InvocationEvent, error)) func(InvocationEvent, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ev InvocationEvent, err error) {
		a(ev, err)
		b(ev, err)
	}
}

type hookedListener struct {
	container string
	delegate  MessageListener
	hooks     Hooks
}

// NewHookedListener runs hooks around every call to delegate. It returns
// delegate unchanged when hooks is empty.
func NewHookedListener(container string, delegate MessageListener, hooks Hooks) MessageListener {
	if delegate == nil || hooks.IsZero() {
		return delegate
	}
	return &hookedListener{container: container, delegate: delegate, hooks: hooks}
}

// OnMessage turns a panic in delegate into a *PanicError so OnError sees it.
func (l *hookedListener) OnMessage(ctx context.Context, msg *nats.Msg) (err error) {
	ev := InvocationEvent{
		Container: l.container,
		Subject:   msg.Subject,
		Reply:     msg.Reply,
		Header:    msg.Header,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	if l.hooks.OnStart != nil {
		l.hooks.OnStart(ev)
	}

	err = l.invoke(ctx, msg)
	ev.Duration = time.Since(ev.StartedAt)

	if err != nil {
		if l.hooks.OnError != nil {
			l.hooks.OnError(ev, err)
		}
		return err
	}
	if l.hooks.OnDone != nil {
		l.hooks.OnDone(ev)
	}
	return nil
}

func (l *hookedListener) invoke(ctx context.Context, msg *nats.Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return l.delegate.OnMessage(ctx, msg)
}

// LoggingHooks logs start and completion at Debug and failures at Error.
func LoggingHooks(logger logging.ServiceLogger) Hooks {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return Hooks{
		OnStart: func(ev InvocationEvent) {
			logger.Debug("Listener invoked", logging.LogFields{
				"container": ev.Container,
				"subject":   ev.Subject,
			})
		},
		OnDone: func(ev InvocationEvent) {
			logger.Debug("Listener completed", logging.LogFields{
				"container":   ev.Container,
				"subject":     ev.Subject,
				"duration_ms": ev.Duration.Milliseconds(),
			})
		},
		OnError: func(ev InvocationEvent, err error) {
			logger.Error("Listener failed", err, logging.LogFields{
				"container":   ev.Container,
				"subject":     ev.Subject,
				"duration_ms": ev.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks calls alert for every listener failure.
func AlertingHooks(alert func(ev InvocationEvent, err error)) Hooks {
	return Hooks{OnError: alert}
}
