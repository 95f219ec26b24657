package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/natsflow/internal/runtime/config"
	"github.com/drblury/natsflow/internal/runtime/connection"
	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
	"github.com/drblury/natsflow/transport"
)

// ServiceDependencies holds the optional collaborators the Service can use.
// Leave fields nil for the defaults.
type ServiceDependencies struct {
	// TransportRegistry resolves Config.Transport; defaults to transport.DefaultRegistry.
	TransportRegistry *transport.Registry
	// ContainerFactory, when set, is used for endpoints registered without
	// a factory instead of the built-in DefaultContainerFactory.
	ContainerFactory ContainerFactory
	// FactoryCatalog is consulted by name before the built-in factory.
	FactoryCatalog FactoryCatalog
	ErrorHandler   listener.ErrorHandler
	FilterStrategy listener.FilterStrategy
	// Hooks observe every listener invocation of the built-in factory.
	Hooks listener.Hooks
	// Registerer and Gatherer back the container metrics when
	// Config.MetricsEnabled is set. Both default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Tracer     trace.Tracer
}

// Service wires the connection provider, container factory, endpoint
// registry, registrar and template, and drives their lifecycle.
type Service struct {
	Conf   *configpkg.Config
	Logger logging.ServiceLogger

	provider  *connection.Provider
	factory   *DefaultContainerFactory
	registry  *EndpointRegistry
	registrar *Registrar
	template  *Template
	metrics   *listener.Metrics
	gatherer  prometheus.Gatherer

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewService validates conf and constructs the runtime. Register endpoints
// on the returned Service before calling Start; later registrations start
// immediately.
func NewService(conf *configpkg.Config, log logging.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, rterrors.ErrConfigRequired
	}
	if log == nil {
		return nil, rterrors.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, rterrors.NewConfigValidationError(err)
	}

	log.Info("Creating natsflow service", logging.LogFields{
		"transport": conf.Transport,
		"config":    conf.String(),
	})

	provider, err := connection.NewProvider(conf, log, connection.WithTransportRegistry(deps.TransportRegistry))
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:     conf,
		Logger:   log,
		provider: provider,
		registry: NewEndpointRegistry(log.With(logging.LogFields{"component": "registry"})),
	}

	if conf.MetricsEnabled {
		if err := s.setupMetrics(deps); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	s.factory, err = NewDefaultContainerFactory(provider, log, s.factoryOptions(deps)...)
	if err != nil {
		return nil, err
	}

	s.registrar, err = NewRegistrar(s.registry, log.With(logging.LogFields{"component": "registrar"}))
	if err != nil {
		return nil, err
	}
	if deps.ContainerFactory != nil {
		s.registrar.SetContainerFactory(deps.ContainerFactory)
	}
	catalog := catalogChain{FactoryMap{DefaultContainerFactoryName: s.factory}}
	if deps.FactoryCatalog != nil {
		catalog = append(catalogChain{deps.FactoryCatalog}, catalog...)
	}
	s.registrar.SetFactoryCatalog(catalog)

	s.template, err = NewTemplate(provider, conf.Template.DefaultSubject, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) setupMetrics(deps ServiceDependencies) error {
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	s.gatherer = deps.Gatherer
	if s.gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			s.gatherer = g
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}
	s.metrics = listener.NewMetrics(registerer)
	return s.metrics.Register()
}

func (s *Service) factoryOptions(deps ServiceDependencies) []FactoryOption {
	c := s.Conf.Container
	opts := []FactoryOption{
		WithAutoStartup(c.AutoStartup),
		WithShutdownTimeout(c.ShutdownTimeout),
		WithErrorHandler(deps.ErrorHandler),
		WithFilterStrategy(deps.FilterStrategy),
		WithHooks(deps.Hooks),
		WithContainerMetrics(s.metrics),
		WithContainerTracer(deps.Tracer),
	}
	if c.Phase != nil {
		opts = append(opts, WithPhase(*c.Phase))
	}
	return opts
}

func (s *Service) Registry() *EndpointRegistry { return s.registry }

func (s *Service) Registrar() *Registrar { return s.registrar }

func (s *Service) Template() *Template { return s.template }

func (s *Service) ContainerFactory() *DefaultContainerFactory { return s.factory }

func (s *Service) ConnectionProvider() *connection.Provider { return s.provider }

// Metrics is nil unless Config.MetricsEnabled is set.
func (s *Service) Metrics() *listener.Metrics { return s.metrics }

// RegisterEndpoint stages endpoint until Start, or registers and starts it
// when the service is already running. A nil factory uses the default.
func (s *Service) RegisterEndpoint(ctx context.Context, endpoint *Endpoint, factory ContainerFactory) error {
	return s.registrar.RegisterEndpoint(ctx, endpoint, factory)
}

// Publish sends payload to subject through the template.
func (s *Service) Publish(ctx context.Context, subject string, payload any) error {
	return s.template.Publish(ctx, subject, payload)
}

// AdminHandler returns the admin HTTP API for mounting on a custom server.
func (s *Service) AdminHandler() http.Handler {
	var gatherer prometheus.Gatherer
	if s.Conf.MetricsEnabled {
		gatherer = s.gatherer
	}
	return NewAdminHandler(s.registry, s.Logger.With(logging.LogFields{"component": "admin"}), AdminOptions{
		Metrics:            s.metrics,
		Gatherer:           gatherer,
		CORSAllowedOrigins: s.Conf.AdminCORSAllowedOrigins,
	})
}

// Start registers the staged endpoints, starts the containers and blocks
// until ctx is cancelled, then shuts everything down. Startup failures
// tear down whatever was started and are returned.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Startup(ctx); err != nil {
		s.shutdownWithTimeout()
		return err
	}

	var adminErr <-chan error
	if s.Conf.AdminEnabled {
		adminErr = runAdminServer(ctx, s.Conf.AdminPort, s.AdminHandler(), s.Logger)
	}

	select {
	case <-ctx.Done():
	case err := <-adminErr:
		if err != nil {
			s.shutdownWithTimeout()
			return fmt.Errorf("admin server: %w", err)
		}
		<-ctx.Done()
	}

	s.Logger.Info("Shutting down natsflow service", nil)
	return s.shutdownWithTimeout()
}

// Startup performs the startup sequence without blocking: the connection
// provider is started, the registrar flushed and the registry started.
// Callers own the matching Shutdown.
func (s *Service) Startup(ctx context.Context) error {
	s.provider.Start()

	if err := s.registrar.Flush(ctx); err != nil {
		return fmt.Errorf("failed to register endpoints: %w", err)
	}
	if err := s.registry.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener containers: %w", err)
	}
	s.registry.MarkStarted()

	s.Logger.Info("natsflow service started", logging.LogFields{
		"containers": len(s.registry.ListenerContainerIDs()),
	})
	return nil
}

func (s *Service) shutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.Conf.Container.ShutdownTimeout > 0 {
		return s.Conf.Container.ShutdownTimeout
	}
	return configpkg.DefaultShutdownTimeout
}

// Shutdown stops every container and waits for running listener
// invocations until ctx is done, then disposes the containers and closes
// the connection. Only the first call has an effect. A listener may pass
// its own context to skip waiting for itself.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		done := make(chan struct{})
		s.registry.StopWithCallback(func() { close(done) })

		select {
		case <-done:
			if err := s.registry.AwaitIdle(ctx); err != nil {
				s.shutdownErr = fmt.Errorf("listener invocations did not finish in time: %w", err)
				s.Logger.Error("Shutdown timed out", s.shutdownErr, nil)
			}
		case <-ctx.Done():
			s.shutdownErr = fmt.Errorf("listener containers did not stop in time: %w", ctx.Err())
			s.Logger.Error("Shutdown timed out", s.shutdownErr, nil)
		}

		s.registry.Destroy()
		s.provider.Stop()
	})
	return s.shutdownErr
}

// catalogChain consults each catalog in order.
type catalogChain []FactoryCatalog

func (c catalogChain) LookupFactory(name string) (ContainerFactory, bool) {
	for _, catalog := range c {
		if f, ok := catalog.LookupFactory(name); ok {
			return f, true
		}
	}
	return nil, false
}
