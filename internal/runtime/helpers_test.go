package runtime

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
	"github.com/drblury/natsflow/transport"
)

var errBoom = errors.New("boom")

// fakeContainer is a scriptable listener.Container.
type fakeContainer struct {
	id string

	mu          sync.Mutex
	running     bool
	autoStartup bool
	phase       int
	startErr    error
	initErr     error
	destroyErr  error
	idleErr     error
	awaits      int
	starts      int
	stops       int
	inits       int
	destroys    int
	// holdStops parks StopWithCallback callbacks until release is called.
	holdStops bool
	held      []func()
}

func newFakeContainer(id string) *fakeContainer {
	return &fakeContainer{id: id, autoStartup: true, phase: math.MaxInt}
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	c.starts++
	return nil
}

func (c *fakeContainer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stops++
}

func (c *fakeContainer) StopWithCallback(cb func()) {
	c.mu.Lock()
	c.running = false
	c.stops++
	if c.holdStops {
		c.held = append(c.held, cb)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	cb()
}

func (c *fakeContainer) release() {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.mu.Unlock()
	for _, cb := range held {
		cb()
	}
}

func (c *fakeContainer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeContainer) IsAutoStartup() bool { return c.autoStartup }
func (c *fakeContainer) Phase() int          { return c.phase }

func (c *fakeContainer) Init() error {
	c.inits++
	return c.initErr
}

func (c *fakeContainer) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroys++
	c.running = false
	return c.destroyErr
}

func (c *fakeContainer) AwaitIdle(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaits++
	return c.idleErr
}

func (c *fakeContainer) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

// fakeFactory hands out pre-built containers by endpoint id, creating
// default ones on demand.
type fakeFactory struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	created    []string
	err        error
}

func newFakeFactory(containers ...*fakeContainer) *fakeFactory {
	f := &fakeFactory{containers: make(map[string]*fakeContainer)}
	for _, c := range containers {
		f.containers[c.id] = c
	}
	return f
}

func (f *fakeFactory) CreateListenerContainer(endpoint *Endpoint) (listener.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.containers[endpoint.ID]
	if !ok {
		c = newFakeContainer(endpoint.ID)
		f.containers[endpoint.ID] = c
	}
	f.created = append(f.created, endpoint.ID)
	return c, nil
}

func (f *fakeFactory) container(id string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

func (f *fakeFactory) createdIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func testEndpoint(id string, subjects ...string) *Endpoint {
	if len(subjects) == 0 {
		subjects = []string{id}
	}
	return &Endpoint{
		ID:       id,
		Subjects: subjects,
		Listener: listener.MessageListenerFunc(func(context.Context, *nats.Msg) error { return nil }),
	}
}

// fakeConn records publishes and lets tests push messages to subscribers.
type fakeConn struct {
	mu         sync.Mutex
	handlers   map[string][]transport.MsgHandler
	published  []*nats.Msg
	publishErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]transport.MsgHandler)}
}

type fakeSubscription struct {
	subject string
	conn    *fakeConn
}

func (s *fakeSubscription) Subject() string { return s.subject }
func (s *fakeSubscription) IsValid() bool   { return true }
func (s *fakeSubscription) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers, s.subject)
	return nil
}

func (c *fakeConn) Subscribe(subject string, h transport.MsgHandler) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = append(c.handlers[subject], h)
	return &fakeSubscription{subject: subject, conn: c}, nil
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	return c.PublishMsg(&nats.Msg{Subject: subject, Data: data})
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) Flush() error   { return nil }
func (c *fakeConn) Close()         {}
func (c *fakeConn) IsClosed() bool { return false }

func (c *fakeConn) deliver(msg *nats.Msg) {
	c.mu.Lock()
	handlers := append([]transport.MsgHandler(nil), c.handlers[msg.Subject]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (c *fakeConn) sent() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*nats.Msg(nil), c.published...)
}

type fakeProvider struct {
	conn *fakeConn
	err  error
}

func (p *fakeProvider) Connection(context.Context) (transport.Conn, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

// recordingLogger keeps error entries for assertions.
type recordingLogger struct {
	mu   *sync.Mutex
	errs *[]error
	msgs *[]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, errs: &[]error{}, msgs: &[]string{}}
}

func (r *recordingLogger) With(logging.LogFields) logging.ServiceLogger { return r }
func (r *recordingLogger) Debug(string, logging.LogFields)              {}
func (r *recordingLogger) Info(string, logging.LogFields)               {}
func (r *recordingLogger) Trace(string, logging.LogFields)              {}
func (r *recordingLogger) Error(msg string, err error, _ logging.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.errs = append(*r.errs, err)
	*r.msgs = append(*r.msgs, msg)
}

func (r *recordingLogger) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), *r.errs...)
}
