// Package codec turns payloads into message bodies and back.
package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"
)

var jsonConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return jsonConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

// Encode writes v as JSON followed by a newline.
func Encode(w io.Writer, v any) error {
	return jsonConfig.NewEncoder(w).Encode(v)
}

// EncodePayload converts an outgoing payload into message bytes: []byte is
// sent as-is, strings as their bytes, protobuf messages in wire format and
// everything else as JSON.
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("encode payload: nil payload")
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case proto.Message:
		data, err := proto.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode protobuf payload: %w", err)
		}
		return data, nil
	default:
		data, err := Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode json payload: %w", err)
		}
		return data, nil
	}
}

// DecodeJSON unmarshals data into a freshly allocated T.
func DecodeJSON[T any](data []byte) (T, error) {
	var out T
	if err := Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode json payload: %w", err)
	}
	return out, nil
}

// ProtoPrototype returns a usable instance of T, allocating one when T is a
// nil pointer.
func ProtoPrototype[T proto.Message]() (T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("protobuf type %v must be a pointer to a message", typ)
	}
	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

// DecodeProto unmarshals data into a new message of the prototype's type.
func DecodeProto[T proto.Message](data []byte, prototype T) (T, error) {
	msg, ok := prototype.ProtoReflect().New().Interface().(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("decode protobuf payload: unexpected message type %T", prototype)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		var zero T
		return zero, fmt.Errorf("decode protobuf payload: %w", err)
	}
	return msg, nil
}
