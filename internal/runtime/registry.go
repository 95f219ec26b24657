package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
)

// unsetPhase marks a registry whose containers declared no custom phase yet.
const unsetPhase = math.MaxInt

// EndpointRegistry creates, owns and drives the lifecycle of every listener
// container. Containers are kept in registration order.
type EndpointRegistry struct {
	logger logging.ServiceLogger

	mu         sync.RWMutex
	containers map[string]listener.Container
	order      []string
	groups     map[string][]listener.Container
	groupOf    map[string]string
	phase      int

	started atomic.Bool
}

// NewEndpointRegistry returns an empty registry. A nil logger discards output.
func NewEndpointRegistry(logger logging.ServiceLogger) *EndpointRegistry {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &EndpointRegistry{
		logger:     logger,
		containers: make(map[string]listener.Container),
		groups:     make(map[string][]listener.Container),
		groupOf:    make(map[string]string),
		phase:      unsetPhase,
	}
}

// RegisterListenerContainer builds a container for endpoint with factory and
// stores it under the endpoint id. With startImmediately the container is
// started right away, subject to the same gating as Start. A start failure
// is returned but the container stays registered.
func (r *EndpointRegistry) RegisterListenerContainer(ctx context.Context, endpoint *Endpoint, factory ContainerFactory, startImmediately bool) error {
	if endpoint == nil {
		return rterrors.ErrEndpointRequired
	}
	if factory == nil {
		return rterrors.ErrFactoryRequired
	}
	if endpoint.ID == "" {
		return rterrors.ErrEndpointIDRequired
	}

	container, err := r.register(endpoint, factory)
	if err != nil {
		return err
	}

	r.logger.Debug("Registered listener container", logging.LogFields{
		"container": endpoint.ID,
		"group":     endpoint.Group,
	})

	if startImmediately {
		return r.startIfNecessary(ctx, container)
	}
	return nil
}

// register builds the container outside the registry lock so factories and
// Init hooks may read the registry. The id is checked again before storing.
func (r *EndpointRegistry) register(endpoint *Endpoint, factory ContainerFactory) (listener.Container, error) {
	id := endpoint.ID
	if r.ListenerContainer(id) != nil {
		return nil, fmt.Errorf("endpoint %q: %w", id, rterrors.ErrDuplicateEndpointID)
	}

	container, err := factory.CreateListenerContainer(endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", id, err)
	}
	if container == nil {
		return nil, fmt.Errorf("endpoint %q: %w", id, rterrors.ErrFactoryRequired)
	}

	if init, ok := container.(listener.Initializer); ok {
		if err := init.Init(); err != nil {
			return nil, &rterrors.ContainerInitError{ID: id, Err: err}
		}
	}

	if err := r.store(endpoint, container); err != nil {
		r.dispose(id, container)
		return nil, err
	}
	return container, nil
}

func (r *EndpointRegistry) store(endpoint *Endpoint, container listener.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := endpoint.ID
	if _, exists := r.containers[id]; exists {
		return fmt.Errorf("endpoint %q: %w", id, rterrors.ErrDuplicateEndpointID)
	}

	if p := container.Phase(); p < unsetPhase {
		if r.phase < unsetPhase && r.phase != p {
			return fmt.Errorf("%w: %d vs %d", rterrors.ErrPhaseMismatch, r.phase, p)
		}
		r.phase = p
	}

	r.containers[id] = container
	r.order = append(r.order, id)
	if endpoint.Group != "" {
		r.groups[endpoint.Group] = append(r.groups[endpoint.Group], container)
		r.groupOf[id] = endpoint.Group
	}
	return nil
}

// MarkStarted records that application wiring has finished. From then on
// containers start even when their auto-startup flag is off.
func (r *EndpointRegistry) MarkStarted() { r.started.Store(true) }

func (r *EndpointRegistry) startIfNecessary(ctx context.Context, c listener.Container) error {
	if !r.started.Load() && !c.IsAutoStartup() {
		return nil
	}
	return c.Start(ctx)
}

// Start starts every container that passes the startup gating. Failures do
// not stop the remaining containers from starting; they are returned joined.
func (r *EndpointRegistry) Start(ctx context.Context) error {
	var errs []error
	for _, c := range r.ListenerContainers() {
		if err := r.startIfNecessary(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every container without waiting on any of them.
func (r *EndpointRegistry) Stop() {
	for _, c := range r.ListenerContainers() {
		c.Stop()
	}
}

// StopWithCallback stops every container and runs callback exactly once,
// after the last one confirms. Containers that are not running count as
// confirmed straight away.
func (r *EndpointRegistry) StopWithCallback(callback func()) {
	containers := r.ListenerContainers()
	done := newCountdown(len(containers), callback)
	for _, c := range containers {
		if c.IsRunning() {
			c.StopWithCallback(done.countDown)
			continue
		}
		done.countDown()
	}
}

// IsRunning reports whether any container is running.
func (r *EndpointRegistry) IsRunning() bool {
	for _, c := range r.ListenerContainers() {
		if c.IsRunning() {
			return true
		}
	}
	return false
}

// Phase returns the custom phase shared by the registered containers, or
// math.MaxInt when none declared one.
func (r *EndpointRegistry) Phase() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Destroy disposes every container. A failing container is logged and the
// rest are still disposed.
func (r *EndpointRegistry) Destroy() {
	for _, c := range r.ListenerContainers() {
		r.dispose(c.ID(), c)
	}
}

func (r *EndpointRegistry) dispose(id string, c listener.Container) {
	d, ok := c.(listener.Disposer)
	if !ok {
		return
	}
	if err := d.Destroy(); err != nil {
		r.logger.Error("Failed to destroy listener container", err, logging.LogFields{"container": id})
	}
}

// AwaitIdle waits until no container has a listener invocation running.
// Containers that cannot report it are skipped.
func (r *EndpointRegistry) AwaitIdle(ctx context.Context) error {
	var errs []error
	for _, c := range r.ListenerContainers() {
		w, ok := c.(listener.IdleWaiter)
		if !ok {
			continue
		}
		if err := w.AwaitIdle(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListenerContainer returns the container registered under id, or nil.
func (r *EndpointRegistry) ListenerContainer(id string) listener.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containers[id]
}

// ListenerContainerIDs returns the registered ids in registration order.
func (r *EndpointRegistry) ListenerContainerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ListenerContainers returns a copy of the registered containers in
// registration order.
func (r *EndpointRegistry) ListenerContainers() []listener.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]listener.Container, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.containers[id])
	}
	return out
}

// Group returns a copy of the containers registered under group, in
// registration order.
func (r *EndpointRegistry) Group(name string) []listener.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]listener.Container(nil), r.groups[name]...)
}

// Groups returns the known group names, sorted.
func (r *EndpointRegistry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartGroup starts every container of group regardless of its auto-startup
// flag.
func (r *EndpointRegistry) StartGroup(ctx context.Context, name string) error {
	var errs []error
	for _, c := range r.Group(name) {
		if err := c.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopGroup stops every container of group.
func (r *EndpointRegistry) StopGroup(name string) {
	for _, c := range r.Group(name) {
		c.Stop()
	}
}

// Infos describes every container in registration order.
func (r *EndpointRegistry) Infos() []listener.ContainerInfo {
	r.mu.RLock()
	groupOf := make(map[string]string, len(r.groupOf))
	for id, g := range r.groupOf {
		groupOf[id] = g
	}
	r.mu.RUnlock()

	containers := r.ListenerContainers()
	infos := make([]listener.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		var info listener.ContainerInfo
		if d, ok := c.(listener.Describer); ok {
			info = d.Info()
		} else {
			info = listener.ContainerInfo{
				ID:          c.ID(),
				Running:     c.IsRunning(),
				AutoStartup: c.IsAutoStartup(),
				Phase:       c.Phase(),
			}
		}
		info.Group = groupOf[c.ID()]
		infos = append(infos, info)
	}
	return infos
}

// countdown runs its callback once, when the count reaches zero.
type countdown struct {
	remaining atomic.Int64
	once      sync.Once
	callback  func()
}

func newCountdown(n int, callback func()) *countdown {
	c := &countdown{callback: callback}
	c.remaining.Store(int64(n))
	if n <= 0 {
		c.fire()
	}
	return c
}

func (c *countdown) countDown() {
	if c.remaining.Add(-1) <= 0 {
		c.fire()
	}
}

func (c *countdown) fire() {
	c.once.Do(func() {
		if c.callback != nil {
			c.callback()
		}
	})
}
