package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/logging"
)

// DefaultContainerFactoryName is the catalog name looked up when neither an
// explicit nor a default factory instance is available.
const DefaultContainerFactoryName = "natsListenerContainerFactory"

// ContainerRegistry is the part of EndpointRegistry the Registrar needs.
type ContainerRegistry interface {
	RegisterListenerContainer(ctx context.Context, endpoint *Endpoint, factory ContainerFactory, startImmediately bool) error
}

// FactoryCatalog resolves container factories by name.
type FactoryCatalog interface {
	LookupFactory(name string) (ContainerFactory, bool)
}

// FactoryMap is a FactoryCatalog backed by a map.
type FactoryMap map[string]ContainerFactory

func (m FactoryMap) LookupFactory(name string) (ContainerFactory, bool) {
	f, ok := m[name]
	return f, ok && f != nil
}

type endpointDescriptor struct {
	endpoint *Endpoint
	factory  ContainerFactory
}

// Registrar stages endpoint registrations until Flush, after which every
// new endpoint is registered and started immediately.
type Registrar struct {
	registry ContainerRegistry
	logger   logging.ServiceLogger

	mu             sync.Mutex
	pending        []endpointDescriptor
	flushed        bool
	defaultFactory ContainerFactory
	factoryName    string
	catalog        FactoryCatalog
}

// NewRegistrar requires a registry. A nil logger discards output.
func NewRegistrar(registry ContainerRegistry, logger logging.ServiceLogger) (*Registrar, error) {
	if registry == nil {
		return nil, rterrors.ErrRegistryRequired
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &Registrar{
		registry:    registry,
		logger:      logger,
		factoryName: DefaultContainerFactoryName,
	}, nil
}

// SetContainerFactory sets the factory used by endpoints registered without one.
func (r *Registrar) SetContainerFactory(f ContainerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultFactory = f
}

// SetContainerFactoryName sets the name looked up in the catalog when no
// default factory instance is set.
func (r *Registrar) SetContainerFactoryName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factoryName = name
}

func (r *Registrar) SetFactoryCatalog(c FactoryCatalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = c
}

// RegisterEndpoint stages endpoint, or registers and starts it right away
// once the registrar has been flushed. A nil factory is resolved later
// from the registrar defaults.
func (r *Registrar) RegisterEndpoint(ctx context.Context, endpoint *Endpoint, factory ContainerFactory) error {
	if endpoint == nil {
		return rterrors.ErrEndpointRequired
	}
	if endpoint.ID == "" {
		return rterrors.ErrEndpointIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := endpointDescriptor{endpoint: endpoint, factory: factory}
	if !r.flushed {
		r.pending = append(r.pending, d)
		return nil
	}

	resolved, err := r.resolveFactory(d)
	if err != nil {
		return err
	}
	return r.registry.RegisterListenerContainer(ctx, endpoint, resolved, true)
}

// Flush registers every staged endpoint without starting it. Failing
// endpoints are skipped and reported together; the registrar counts as
// flushed either way.
func (r *Registrar) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, d := range r.pending {
		factory, err := r.resolveFactory(d)
		if err == nil {
			err = r.registry.RegisterListenerContainer(ctx, d.endpoint, factory, false)
		}
		if err != nil {
			r.logger.Error("Failed to register endpoint", err, logging.LogFields{"endpoint": d.endpoint.ID})
			errs = append(errs, err)
		}
	}
	r.logger.Debug("Registrar flushed", logging.LogFields{"endpoints": len(r.pending)})
	r.pending = nil
	r.flushed = true
	return errors.Join(errs...)
}

// IsFlushed reports whether Flush has run.
func (r *Registrar) IsFlushed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

// Pending returns the number of staged endpoints.
func (r *Registrar) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// resolveFactory picks the explicit factory, then the default instance,
// then the catalog entry named factoryName. A catalog hit becomes the
// default instance. Callers hold r.mu.
func (r *Registrar) resolveFactory(d endpointDescriptor) (ContainerFactory, error) {
	if d.factory != nil {
		return d.factory, nil
	}
	if r.defaultFactory != nil {
		return r.defaultFactory, nil
	}
	if r.factoryName != "" && r.catalog != nil {
		if f, ok := r.catalog.LookupFactory(r.factoryName); ok {
			r.defaultFactory = f
			return f, nil
		}
	}
	return nil, fmt.Errorf("%v: %w", d.endpoint, rterrors.ErrNoFactoryResolvable)
}
