package listener

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/natsflow/internal/runtime/config"
	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/logging"
	"github.com/drblury/natsflow/transport"
)

const tracerName = "github.com/drblury/natsflow/listener"

// ConnectionProvider hands out the shared transport connection.
type ConnectionProvider interface {
	Connection(ctx context.Context) (transport.Conn, error)
}

// Container owns the subscriptions for one endpoint.
type Container interface {
	ID() string
	Start(ctx context.Context) error
	// Stop stops the container and returns once it confirmed.
	Stop()
	// StopWithCallback stops the container and invokes callback once it has
	// stopped. The callback also runs when the container was not running.
	StopWithCallback(callback func())
	IsRunning() bool
	IsAutoStartup() bool
	Phase() int
}

// Initializer is implemented by containers that need a one-time hook after
// construction and before the first start.
type Initializer interface {
	Init() error
}

// IdleWaiter is implemented by containers that can wait for listener
// invocations still running after Stop.
type IdleWaiter interface {
	AwaitIdle(ctx context.Context) error
}

// Disposer is implemented by containers holding resources beyond Stop.
type Disposer interface {
	Destroy() error
}

// ContainerInfo is a point-in-time view of a container.
type ContainerInfo struct {
	ID            string   `json:"id"`
	Subjects      []string `json:"subjects"`
	Group         string   `json:"group,omitempty"`
	Running       bool     `json:"running"`
	AutoStartup   bool     `json:"auto_startup"`
	Phase         int      `json:"phase"`
	Subscriptions []string `json:"subscriptions"`
}

// Describer is implemented by containers that can report a ContainerInfo.
type Describer interface {
	Info() ContainerInfo
}

// DefaultContainer subscribes one MessageListener to every configured
// subject on a shared connection. Lifecycle calls are serialised by a mutex;
// message dispatch never takes it.
type DefaultContainer struct {
	id       string
	provider ConnectionProvider
	props    *ContainerProperties
	logger   logging.ServiceLogger
	metrics  *Metrics
	tracer   trace.Tracer

	mu          sync.Mutex
	running     atomic.Bool
	autoStartup atomic.Bool
	phase       atomic.Int64
	conn        transport.Conn
	subs        []transport.Subscription
	inflight    inflight
}

// ContainerOption customises a DefaultContainer.
type ContainerOption func(*DefaultContainer)

// WithMetrics records dispatch metrics on m.
func WithMetrics(m *Metrics) ContainerOption {
	return func(c *DefaultContainer) { c.metrics = m }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) ContainerOption {
	return func(c *DefaultContainer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewDefaultContainer copies props so later changes to the caller's value
// have no effect. Containers start with phase 0 and auto-startup enabled.
func NewDefaultContainer(id string, provider ConnectionProvider, props *ContainerProperties, logger logging.ServiceLogger, opts ...ContainerOption) (*DefaultContainer, error) {
	if id == "" {
		return nil, rterrors.ErrEndpointIDRequired
	}
	if provider == nil {
		return nil, rterrors.ErrConnectionProviderRequired
	}
	if props == nil {
		props = NewContainerProperties()
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}

	own := NewContainerProperties(props.subjects...)
	own.CopyDefaultsFrom(props)
	own.Listener = props.Listener

	c := &DefaultContainer{
		id:       id,
		provider: provider,
		props:    own,
		logger:   logger.With(logging.LogFields{"container": id}),
		tracer:   otel.Tracer(tracerName),
	}
	c.autoStartup.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *DefaultContainer) ID() string { return c.id }

// Properties exposes the container's own properties for configuration
// before start.
func (c *DefaultContainer) Properties() *ContainerProperties { return c.props }

// SetupMessageListener attaches the listener used from the next start on.
func (c *DefaultContainer) SetupMessageListener(l MessageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.props.Listener = l
}

func (c *DefaultContainer) IsRunning() bool { return c.running.Load() }

func (c *DefaultContainer) IsAutoStartup() bool { return c.autoStartup.Load() }

func (c *DefaultContainer) SetAutoStartup(v bool) { c.autoStartup.Store(v) }

func (c *DefaultContainer) Phase() int { return int(c.phase.Load()) }

func (c *DefaultContainer) SetPhase(p int) { c.phase.Store(int64(p)) }

// Init checks the properties and fills in defaults.
func (c *DefaultContainer) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.props.subjects) == 0 {
		return rterrors.ErrSubjectsRequired
	}
	if c.props.ShutdownTimeout <= 0 {
		c.props.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	return nil
}

// Start subscribes to every subject. It is a no-op when already running.
// A connection or subscribe failure aborts the start and releases any
// subscriptions made so far.
func (c *DefaultContainer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}
	c.subs = nil

	listener := c.props.Listener
	if listener == nil {
		return fmt.Errorf("container %q: %w", c.id, rterrors.ErrListenerRequired)
	}
	if len(c.props.subjects) == 0 {
		return fmt.Errorf("container %q: %w", c.id, rterrors.ErrSubjectsRequired)
	}

	conn, err := c.provider.Connection(ctx)
	if err != nil {
		return fmt.Errorf("container %q: %w", c.id, err)
	}

	handler := c.props.ErrorHandler
	if handler == nil {
		handler = NewLoggingErrorHandler(c.logger)
	}
	dispatch := c.dispatcher(listener, handler)
	c.inflight.open()

	subs := make([]transport.Subscription, 0, len(c.props.subjects))
	for _, subject := range c.props.subjects {
		sub, err := conn.Subscribe(subject, dispatch)
		if err != nil {
			c.unsubscribeAll(subs)
			c.inflight.close()
			return rterrors.NewConnectionError(fmt.Sprintf("container %q failed to subscribe to %q", c.id, subject), err)
		}
		c.logger.Debug("Subscribed", logging.LogFields{"subject": subject})
		subs = append(subs, sub)
	}

	c.conn = conn
	c.subs = subs
	c.running.Store(true)
	c.metrics.containerStarted()
	c.logger.Info("Listener container started", logging.LogFields{"subjects": c.props.Subjects()})
	return nil
}

// Stop releases the subscriptions. It returns without waiting for running
// listener invocations, so it is safe to call from inside a listener.
func (c *DefaultContainer) Stop() {
	c.StopWithCallback(nil)
}

// StopWithCallback unsubscribes, releases the connection handle and runs
// callback. It does not wait for listener invocations that are still
// running, so a listener may stop its own container; use AwaitIdle for that.
func (c *DefaultContainer) StopWithCallback(callback func()) {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		if callback != nil {
			callback()
		}
		return
	}

	c.unsubscribeAll(c.subs)
	c.subs = nil
	c.inflight.close()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.running.Store(false)
	c.mu.Unlock()

	c.metrics.containerStopped()
	c.logger.Info("Listener container stopped", nil)

	if callback != nil {
		callback()
	}
}

// AwaitIdle waits until no listener invocation is running. Without a
// deadline on ctx it gives up after the shutdown timeout. When ctx is the
// context passed to one of this container's listeners, that invocation is
// not waited for.
func (c *DefaultContainer) AwaitIdle(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.shutdownTimeout())
		defer cancel()
	}

	limit := 0
	if invokingContainer(ctx) == c {
		limit = 1
	}

	select {
	case <-c.inflight.idle(limit):
		return nil
	case <-ctx.Done():
		c.logger.Info("Listener invocations still running after stop", logging.LogFields{"running": c.inflight.running()})
		return fmt.Errorf("container %q: %w", c.id, ctx.Err())
	}
}

// Destroy stops the container if it is still running.
func (c *DefaultContainer) Destroy() error {
	c.Stop()
	return nil
}

// Subscriptions returns the live subscriptions in subject declaration order.
func (c *DefaultContainer) Subscriptions() []transport.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Subscription(nil), c.subs...)
}

func (c *DefaultContainer) Info() ContainerInfo {
	c.mu.Lock()
	subs := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s.Subject())
	}
	c.mu.Unlock()

	return ContainerInfo{
		ID:            c.id,
		Subjects:      c.props.Subjects(),
		Running:       c.IsRunning(),
		AutoStartup:   c.IsAutoStartup(),
		Phase:         c.Phase(),
		Subscriptions: subs,
	}
}

func (c *DefaultContainer) String() string {
	return fmt.Sprintf("DefaultContainer [id=%s]", c.id)
}

func (c *DefaultContainer) shutdownTimeout() time.Duration {
	if c.props.ShutdownTimeout <= 0 {
		return config.DefaultShutdownTimeout
	}
	return c.props.ShutdownTimeout
}

func (c *DefaultContainer) unsubscribeAll(subs []transport.Subscription) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Error("Failed to unsubscribe", err, logging.LogFields{"subject": sub.Subject()})
			continue
		}
		c.logger.Debug("Unsubscribed", logging.LogFields{"subject": sub.Subject()})
	}
}

// dispatcher binds the listener and error handler resolved at start so
// delivery never reads mutable container state.
func (c *DefaultContainer) dispatcher(listener MessageListener, handler ErrorHandler) transport.MsgHandler {
	return func(msg *nats.Msg) {
		// A message racing a stop is dropped once the container closed.
		if !c.inflight.enter() {
			return
		}
		defer c.inflight.leave()
		c.invokeMessageListener(listener, handler, msg)
	}
}

func (c *DefaultContainer) invokeMessageListener(listener MessageListener, handler ErrorHandler, msg *nats.Msg) {
	c.logger.Trace("Processing message", logging.LogFields{"subject": msg.Subject})
	c.metrics.recordReceived(c.id, msg.Subject)

	ctx := context.WithValue(context.Background(), invocationKey{}, c)
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
	}
	ctx, span := c.tracer.Start(ctx, c.id,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", msg.Subject),
		),
	)
	defer span.End()

	started := time.Now()
	err := callListener(ctx, listener, msg)
	c.metrics.observeDispatch(c.id, time.Since(started))
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.metrics.recordListenerFailure(c.id)

	c.handleListenerError(handler, &ExecutionError{ContainerID: c.id, Subject: msg.Subject, Err: err}, msg)
}

func (c *DefaultContainer) handleListenerError(handler ErrorHandler, err error, msg *nats.Msg) {
	herr := callErrorHandler(handler, err, msg)
	if herr == nil {
		return
	}
	c.metrics.recordHandlerFailure(c.id)
	if rterrors.IsFatal(herr) {
		c.logger.Error("Error handler raised a fatal error", herr, logging.LogFields{"subject": msg.Subject})
		panic(herr)
	}
	c.logger.Error("Error handler failed", herr, logging.LogFields{"subject": msg.Subject})
}

func callListener(ctx context.Context, listener MessageListener, msg *nats.Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return listener.OnMessage(ctx, msg)
}

// callErrorHandler turns handler panics into errors. A panic carrying a
// fatal error stays fatal.
func callErrorHandler(handler ErrorHandler, err error, msg *nats.Msg) (herr error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && rterrors.IsFatal(e) {
				herr = e
				return
			}
			herr = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler.HandleError(err, msg)
}

type invocationKey struct{}

// invokingContainer returns the container whose listener received ctx.
func invokingContainer(ctx context.Context) *DefaultContainer {
	c, _ := ctx.Value(invocationKey{}).(*DefaultContainer)
	return c
}

// inflight counts running listener invocations. Once closed it refuses new
// ones until reopened.
type inflight struct {
	mu      sync.Mutex
	n       int
	closed  bool
	waiters []idleWaiter
}

type idleWaiter struct {
	limit int
	done  chan struct{}
}

func (f *inflight) open() {
	f.mu.Lock()
	f.closed = false
	f.mu.Unlock()
}

func (f *inflight) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *inflight) enter() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.n++
	return true
}

func (f *inflight) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if f.n <= w.limit {
			close(w.done)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

func (f *inflight) running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// idle returns a channel closed once at most limit invocations are running.
func (f *inflight) idle(limit int) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	done := make(chan struct{})
	if f.n <= limit {
		close(done)
		return done
	}
	f.waiters = append(f.waiters, idleWaiter{limit: limit, done: done})
	return done
}
