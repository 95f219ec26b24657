package listener

import (
	"context"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/natsflow/internal/runtime/codec"
	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
)

// JSONHandler receives a decoded JSON payload alongside the raw message.
type JSONHandler[T any] func(ctx context.Context, payload T, msg *nats.Msg) error

// JSONListener decodes each payload into T before calling its handler.
// Decode failures are returned like any other listener error.
type JSONListener[T any] struct {
	handler JSONHandler[T]
}

func NewJSONListener[T any](handler JSONHandler[T]) (*JSONListener[T], error) {
	if handler == nil {
		return nil, rterrors.ErrListenerRequired
	}
	return &JSONListener[T]{handler: handler}, nil
}

func (l *JSONListener[T]) OnMessage(ctx context.Context, msg *nats.Msg) error {
	payload, err := codec.DecodeJSON[T](msg.Data)
	if err != nil {
		return err
	}
	return l.handler(ctx, payload, msg)
}

// ProtoHandler receives a decoded protobuf message alongside the raw message.
type ProtoHandler[T proto.Message] func(ctx context.Context, payload T, msg *nats.Msg) error

// ProtoListener decodes each payload into a fresh T before calling its handler.
type ProtoListener[T proto.Message] struct {
	prototype T
	handler   ProtoHandler[T]
}

func NewProtoListener[T proto.Message](handler ProtoHandler[T]) (*ProtoListener[T], error) {
	if handler == nil {
		return nil, rterrors.ErrListenerRequired
	}
	prototype, err := codec.ProtoPrototype[T]()
	if err != nil {
		return nil, err
	}
	return &ProtoListener[T]{prototype: prototype, handler: handler}, nil
}

func (l *ProtoListener[T]) OnMessage(ctx context.Context, msg *nats.Msg) error {
	payload, err := codec.DecodeProto(msg.Data, l.prototype)
	if err != nil {
		return err
	}
	return l.handler(ctx, payload, msg)
}
