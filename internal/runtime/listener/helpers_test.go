package listener

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/internal/runtime/logging"
	"github.com/drblury/natsflow/transport"
)

type fakeSub struct {
	subject string
	handler transport.MsgHandler
	conn    *fakeConn
	mu      sync.Mutex
	valid   bool
	err     error
}

func (s *fakeSub) Subject() string { return s.subject }

func (s *fakeSub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.valid = false
	return nil
}

type fakeConn struct {
	mu           sync.Mutex
	subs         []*fakeSub
	failSubject  string
	unsubErr     error
	closeCalls   int
	subscribeErr error
}

func (c *fakeConn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subject == c.failSubject {
		return nil, c.subscribeErr
	}
	s := &fakeSub{subject: subject, handler: handler, conn: c, valid: true, err: c.unsubErr}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *fakeConn) Publish(string, []byte) error { return nil }
func (c *fakeConn) PublishMsg(*nats.Msg) error   { return nil }
func (c *fakeConn) Flush() error                 { return nil }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
}

func (c *fakeConn) IsClosed() bool { return false }

// deliver synchronously hands msg to every valid subscription on subject.
func (c *fakeConn) deliver(subject string, data string) {
	c.mu.Lock()
	var targets []*fakeSub
	for _, s := range c.subs {
		if s.subject == subject && s.IsValid() {
			targets = append(targets, s)
		}
	}
	c.mu.Unlock()
	for _, s := range targets {
		s.handler(&nats.Msg{Subject: subject, Data: []byte(data)})
	}
}

func (c *fakeConn) validSubjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.subs {
		if s.IsValid() {
			out = append(out, s.subject)
		}
	}
	return out
}

type fakeProvider struct {
	conn  *fakeConn
	err   error
	calls int
}

func (p *fakeProvider) Connection(context.Context) (transport.Conn, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{conn: &fakeConn{}}
}

type recordingListener struct {
	mu       sync.Mutex
	messages []string
	failOn   map[string]error
	panicOn  map[string]any
}

func (l *recordingListener) OnMessage(_ context.Context, msg *nats.Msg) error {
	l.mu.Lock()
	l.messages = append(l.messages, string(msg.Data))
	l.mu.Unlock()
	if v, ok := l.panicOn[string(msg.Data)]; ok {
		panic(v)
	}
	return l.failOn[string(msg.Data)]
}

func (l *recordingListener) received() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

type recordingErrorHandler struct {
	mu     sync.Mutex
	errs   []error
	result error
}

func (h *recordingErrorHandler) HandleError(err error, _ *nats.Msg) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
	return h.result
}

func (h *recordingErrorHandler) handled() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

type logEntry struct {
	level string
	msg   string
	err   error
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) With(logging.LogFields) logging.ServiceLogger { return r }
func (r *recordingLogger) Debug(msg string, _ logging.LogFields)        { r.add("debug", msg, nil) }
func (r *recordingLogger) Info(msg string, _ logging.LogFields)         { r.add("info", msg, nil) }
func (r *recordingLogger) Trace(msg string, _ logging.LogFields)        { r.add("trace", msg, nil) }
func (r *recordingLogger) Error(msg string, err error, _ logging.LogFields) {
	r.add("error", msg, err)
}

func (r *recordingLogger) add(level, msg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err})
}

func (r *recordingLogger) errors() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logEntry
	for _, e := range *r.entries {
		if e.level == "error" {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")
