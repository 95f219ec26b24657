package listener

import (
	"context"

	"github.com/nats-io/nats.go"
)

// FilterStrategy decides whether a message should be discarded before it
// reaches the listener. Returning true discards the message.
type FilterStrategy interface {
	Filter(msg *nats.Msg) bool
}

// FilterFunc adapts a plain function to FilterStrategy.
type FilterFunc func(msg *nats.Msg) bool

func (f FilterFunc) Filter(msg *nats.Msg) bool { return f(msg) }

// FilteringListener drops messages the strategy rejects and forwards the rest.
type FilteringListener struct {
	delegate MessageListener
	strategy FilterStrategy
	// OnDiscard, when set, observes every dropped message.
	OnDiscard func(msg *nats.Msg)
}

// NewFilteringListener returns delegate unchanged when strategy is nil.
func NewFilteringListener(delegate MessageListener, strategy FilterStrategy) MessageListener {
	if strategy == nil || delegate == nil {
		return delegate
	}
	return &FilteringListener{delegate: delegate, strategy: strategy}
}

func (l *FilteringListener) OnMessage(ctx context.Context, msg *nats.Msg) error {
	if l.strategy.Filter(msg) {
		if l.OnDiscard != nil {
			l.OnDiscard(msg)
		}
		return nil
	}
	return l.delegate.OnMessage(ctx, msg)
}

// Delegate returns the wrapped listener.
func (l *FilteringListener) Delegate() MessageListener { return l.delegate }

// HeaderFilter discards messages whose header key does not equal value.
func HeaderFilter(key, value string) FilterStrategy {
	return FilterFunc(func(msg *nats.Msg) bool {
		return msg.Header.Get(key) != value
	})
}
