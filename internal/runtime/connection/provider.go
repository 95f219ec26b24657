// Package connection owns the single transport connection shared by every
// listener container and the publishing template.
package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/logging"
	"github.com/drblury/natsflow/transport"
)

// Provider lazily dials one transport connection and hands out close-safe
// views of it. Only Destroy (or Stop) closes the real connection.
type Provider struct {
	cfg       transport.Config
	transport *transport.Registry
	logger    logging.ServiceLogger

	mu      sync.Mutex
	current atomic.Pointer[closeSafeConn]
	running atomic.Bool
}

// Option customises a Provider.
type Option func(*Provider)

// WithTransportRegistry resolves builders from reg instead of the default registry.
func WithTransportRegistry(reg *transport.Registry) Option {
	return func(p *Provider) {
		if reg != nil {
			p.transport = reg
		}
	}
}

// NewProvider creates a provider for cfg. No connection is made until the
// first call to Connection.
func NewProvider(cfg transport.Config, logger logging.ServiceLogger, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, rterrors.ErrConfigRequired
	}
	if logger == nil {
		return nil, rterrors.ErrLoggerRequired
	}
	p := &Provider{
		cfg:       cfg,
		transport: transport.DefaultRegistry,
		logger:    logger.With(logging.LogFields{"component": "connection_provider", "transport": cfg.GetTransport()}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Connection returns the shared connection, dialing it on first use or
// after the previous one was torn down. Calling Close on the returned
// value does nothing.
func (p *Provider) Connection(ctx context.Context) (transport.Conn, error) {
	if c := p.current.Load(); c != nil && !c.IsClosed() {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.current.Load(); c != nil {
		if !c.IsClosed() {
			return c, nil
		}
		p.logger.Info("Cached connection was closed by the transport, reconnecting", nil)
		p.current.Store(nil)
	}

	conn, err := p.transport.Build(ctx, p.cfg, logging.NewWatermillAdapter(p.logger))
	if err != nil {
		return nil, rterrors.NewConnectionError("failed to connect to "+p.cfg.GetTransport(), err)
	}

	safe := &closeSafeConn{Conn: conn, logger: p.logger}
	p.current.Store(safe)
	p.logger.Debug("Connection established", nil)
	return safe, nil
}

// Capabilities reports what the configured transport supports.
func (p *Provider) Capabilities() transport.Capabilities {
	return p.transport.GetCapabilities(p.cfg.GetTransport())
}

func (p *Provider) Start() {
	p.running.Store(true)
}

// Stop tears the connection down, logging rather than returning failures.
func (p *Provider) Stop() {
	if err := p.Destroy(); err != nil {
		p.logger.Error("Failed to close connection", err, nil)
	}
	p.running.Store(false)
}

func (p *Provider) IsRunning() bool {
	return p.running.Load()
}

// Destroy flushes and closes the real connection and clears the cache so the
// next Connection call dials again. Safe to call repeatedly.
func (p *Provider) Destroy() error {
	p.mu.Lock()
	c := p.current.Swap(nil)
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.closeDelegate()
}

// closeSafeConn shields the shared connection from consumers calling Close.
type closeSafeConn struct {
	transport.Conn
	logger logging.ServiceLogger
	once   sync.Once
}

// Close is a no-op; the Provider owns the real connection.
func (c *closeSafeConn) Close() {
	c.logger.Trace("Ignoring close on shared connection", nil)
}

// Capabilities forwards to the wrapped connection when it reports them.
func (c *closeSafeConn) Capabilities() transport.Capabilities {
	if cp, ok := c.Conn.(transport.CapabilitiesProvider); ok {
		return cp.Capabilities()
	}
	return transport.Capabilities{}
}

// Unwrap returns the real connection.
func (c *closeSafeConn) Unwrap() transport.Conn { return c.Conn }

func (c *closeSafeConn) closeDelegate() error {
	var err error
	c.once.Do(func() {
		if !c.Conn.IsClosed() {
			if ferr := c.Conn.Flush(); ferr != nil && !isClosedErr(ferr) {
				err = rterrors.NewConnectionError("failed to flush connection before close", ferr)
			}
		}
		c.Conn.Close()
		c.logger.Debug("Connection closed", nil)
	})
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, transport.ErrConnectionClosed)
}
