// Package watermill adapts a Watermill publisher/subscriber pair into a
// natsflow transport connection.
package watermill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/transport"
)

// SubjectMetadataKey carries the concrete publish subject so wildcard
// subscribers can see where a message was sent.
const SubjectMetadataKey = "natsflow_subject"

// ReplyMetadataKey carries the reply subject of a published nats.Msg.
const ReplyMetadataKey = "natsflow_reply"

// Conn delivers Watermill messages to natsflow message handlers. Every
// message is acked once the handler returns, giving at-most-once delivery
// like core NATS.
type Conn struct {
	pub    message.Publisher
	sub    message.Subscriber
	caps   transport.Capabilities
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

// NewConn wraps pub and sub. They may be the same value (for example a
// GoChannel); it is then closed once.
func NewConn(pub message.Publisher, sub message.Subscriber, caps transport.Capabilities, logger watermill.LoggerAdapter) *Conn {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Conn{
		pub:    pub,
		sub:    sub,
		caps:   caps,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

// Subscribe starts a goroutine that feeds every message on subject to handler.
func (c *Conn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	if handler == nil {
		return nil, errors.New("natsflow: message handler is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrConnectionClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := c.sub.Subscribe(ctx, subject)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &subscription{subject: subject, cancel: cancel, conn: c, done: make(chan struct{})}
	s.valid.Store(true)
	c.subs[s] = struct{}{}

	go s.run(messages, handler)

	c.logger.Debug("Subscribed", watermill.LogFields{"subject": subject})
	return s, nil
}

// Publish sends data to subject.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.PublishMsg(&nats.Msg{Subject: subject, Data: data})
}

// PublishMsg sends msg, mapping its headers onto Watermill metadata.
func (c *Conn) PublishMsg(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("natsflow: message is required")
	}
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	return c.pub.Publish(msg.Subject, toWatermillMessage(msg))
}

// Flush is a no-op; Watermill publishers return once the message is handed off.
func (c *Conn) Flush() error {
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	return nil
}

// Close cancels every subscription and closes the publisher and subscriber.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = map[*subscription]struct{}{}
	c.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}

	if err := c.pub.Close(); err != nil {
		c.logger.Error("Failed to close publisher", err, nil)
	}
	if any(c.sub) != any(c.pub) {
		if err := c.sub.Close(); err != nil {
			c.logger.Error("Failed to close subscriber", err, nil)
		}
	}
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Capabilities() transport.Capabilities { return c.caps }

func (c *Conn) forget(s *subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

type subscription struct {
	subject string
	cancel  context.CancelFunc
	conn    *Conn
	valid   atomic.Bool
	done    chan struct{}
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) IsValid() bool { return s.valid.Load() }

// Unsubscribe stops delivery without waiting for an in-flight handler, so
// it is safe to call from inside the handler.
func (s *subscription) Unsubscribe() error {
	if !s.valid.Load() {
		return errors.New("natsflow: invalid subscription")
	}
	s.stop()
	s.conn.forget(s)
	return nil
}

func (s *subscription) stop() {
	if s.valid.CompareAndSwap(true, false) {
		s.cancel()
	}
}

func (s *subscription) run(messages <-chan *message.Message, handler transport.MsgHandler) {
	defer close(s.done)
	for msg := range messages {
		if !s.valid.Load() {
			msg.Ack()
			continue
		}
		s.deliver(msg, handler)
	}
}

func (s *subscription) deliver(msg *message.Message, handler transport.MsgHandler) {
	defer msg.Ack()
	handler(toNATSMsg(s.subject, msg))
}

func toWatermillMessage(msg *nats.Msg) *message.Message {
	wm := message.NewMessage(watermill.NewUUID(), msg.Data)
	for key := range msg.Header {
		wm.Metadata.Set(key, msg.Header.Get(key))
	}
	wm.Metadata.Set(SubjectMetadataKey, msg.Subject)
	if msg.Reply != "" {
		wm.Metadata.Set(ReplyMetadataKey, msg.Reply)
	}
	return wm
}

func toNATSMsg(subject string, wm *message.Message) *nats.Msg {
	msg := &nats.Msg{Subject: subject, Data: wm.Payload}
	for key, value := range wm.Metadata {
		switch key {
		case SubjectMetadataKey:
			if value != "" {
				msg.Subject = value
			}
		case ReplyMetadataKey:
			msg.Reply = value
		default:
			if msg.Header == nil {
				msg.Header = nats.Header{}
			}
			msg.Header.Set(key, value)
		}
	}
	return msg
}
