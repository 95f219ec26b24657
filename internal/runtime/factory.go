package runtime

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
)

// ContainerFactory builds a listener container for an endpoint. It must not
// start the container. The registry calls it without holding its lock, so
// a factory may read the registry.
type ContainerFactory interface {
	CreateListenerContainer(endpoint *Endpoint) (listener.Container, error)
}

// ContainerFactoryFunc adapts a plain function to ContainerFactory.
type ContainerFactoryFunc func(endpoint *Endpoint) (listener.Container, error)

func (f ContainerFactoryFunc) CreateListenerContainer(endpoint *Endpoint) (listener.Container, error) {
	return f(endpoint)
}

// DefaultContainerFactory creates DefaultContainers that share one
// connection provider and a template of container properties.
type DefaultContainerFactory struct {
	provider   listener.ConnectionProvider
	logger     logging.ServiceLogger
	properties *listener.ContainerProperties

	autoStartup *bool
	phase       *int
	filter      listener.FilterStrategy
	hooks       listener.Hooks
	metrics     *listener.Metrics
	tracer      trace.Tracer
}

// FactoryOption customises a DefaultContainerFactory.
type FactoryOption func(*DefaultContainerFactory)

// WithAutoStartup sets the auto-startup flag of every container the factory
// creates, unless the endpoint overrides it.
func WithAutoStartup(v bool) FactoryOption {
	return func(f *DefaultContainerFactory) { f.autoStartup = &v }
}

// WithPhase sets the phase of every created container.
func WithPhase(p int) FactoryOption {
	return func(f *DefaultContainerFactory) { f.phase = &p }
}

// WithFilterStrategy applies strategy to endpoints that carry no filter of
// their own.
func WithFilterStrategy(strategy listener.FilterStrategy) FactoryOption {
	return func(f *DefaultContainerFactory) { f.filter = strategy }
}

// WithHooks observes every listener invocation that passes the filter.
// Repeated options are merged.
func WithHooks(h listener.Hooks) FactoryOption {
	return func(f *DefaultContainerFactory) { f.hooks = f.hooks.Merge(h) }
}

func WithErrorHandler(h listener.ErrorHandler) FactoryOption {
	return func(f *DefaultContainerFactory) { f.properties.ErrorHandler = h }
}

func WithShutdownTimeout(d time.Duration) FactoryOption {
	return func(f *DefaultContainerFactory) { f.properties.ShutdownTimeout = d }
}

// WithContainerMetrics records dispatch and filter metrics for every container.
func WithContainerMetrics(m *listener.Metrics) FactoryOption {
	return func(f *DefaultContainerFactory) { f.metrics = m }
}

func WithContainerTracer(t trace.Tracer) FactoryOption {
	return func(f *DefaultContainerFactory) { f.tracer = t }
}

// NewDefaultContainerFactory requires a provider. A nil logger discards output.
func NewDefaultContainerFactory(provider listener.ConnectionProvider, logger logging.ServiceLogger, opts ...FactoryOption) (*DefaultContainerFactory, error) {
	if provider == nil {
		return nil, rterrors.ErrConnectionProviderRequired
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	f := &DefaultContainerFactory{
		provider:   provider,
		logger:     logger,
		properties: listener.NewContainerProperties(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ContainerProperties returns the template copied onto every new container.
// Subjects and listener on the template are ignored.
func (f *DefaultContainerFactory) ContainerProperties() *listener.ContainerProperties {
	return f.properties
}

func (f *DefaultContainerFactory) CreateListenerContainer(endpoint *Endpoint) (listener.Container, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if endpoint.Listener == nil {
		return nil, rterrors.ErrListenerRequired
	}

	props := listener.NewContainerProperties(endpoint.Subjects...)
	props.CopyDefaultsFrom(f.properties)
	props.Listener = f.wrapListener(endpoint)

	var opts []listener.ContainerOption
	if f.metrics != nil {
		opts = append(opts, listener.WithMetrics(f.metrics))
	}
	if f.tracer != nil {
		opts = append(opts, listener.WithTracer(f.tracer))
	}

	container, err := listener.NewDefaultContainer(endpoint.ID, f.provider, props, f.logger, opts...)
	if err != nil {
		return nil, err
	}

	if v := firstSet(endpoint.AutoStartup, f.autoStartup); v != nil {
		container.SetAutoStartup(*v)
	}
	if p := firstSet(endpoint.Phase, f.phase); p != nil {
		container.SetPhase(*p)
	}

	f.logger.Debug("Created listener container", logging.LogFields{
		"container": endpoint.ID,
		"subjects":  endpoint.Subjects,
	})
	return container, nil
}

func (f *DefaultContainerFactory) wrapListener(endpoint *Endpoint) listener.MessageListener {
	strategy := endpoint.Filter
	if strategy == nil {
		strategy = f.filter
	}
	hooked := listener.NewHookedListener(endpoint.ID, endpoint.Listener, f.hooks)
	wrapped := listener.NewFilteringListener(hooked, strategy)
	if fl, ok := wrapped.(*listener.FilteringListener); ok && f.metrics != nil {
		id, metrics := endpoint.ID, f.metrics
		fl.OnDiscard = func(*nats.Msg) { metrics.RecordFiltered(id) }
	}
	return wrapped
}

func firstSet[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
