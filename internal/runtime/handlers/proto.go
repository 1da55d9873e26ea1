package handlers

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoDecoder decodes protojson bodies into M.
func ProtoDecoder[M proto.Message]() (Decoder[M], error) {
	var zero M
	prototype, err := EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}
	name := messageTypeOf(prototype)

	return DecoderFunc[M](func(env *envelope.Envelope) (M, error) {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return typed, err
		}
		if err := protoJSONUnmarshalOptions.Unmarshal(env.Body, typed); err != nil {
			var zero M
			return zero, &errspkg.DecodeError{ContentType: env.ContentType, MessageType: name, Cause: err}
		}
		return typed, nil
	}), nil
}

// EncodeProto marshals msg as protojson into a new envelope carrying headers
// and the message type.
func EncodeProto(msg proto.Message, headers envelope.Headers) (*envelope.Envelope, error) {
	if isNilProto(msg) {
		return nil, errspkg.ErrPayloadRequired
	}
	body, err := protoJSONMarshalOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T payload: %w", msg, err)
	}
	env := envelope.New(body, ContentTypeProtoJSON)
	env.Headers = headers.Clone()
	env.Headers.Set(MetadataKeyMessageType, messageTypeOf(msg))
	return env, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrMessageTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a freshly allocated T when
// candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrMessageTypeRequired
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
