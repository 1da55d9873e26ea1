package handlers

import (
	"reflect"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
)

// JSONDecoder decodes JSON bodies into M. M may be a struct value or a
// pointer to one.
func JSONDecoder[M any]() (Decoder[M], error) {
	if reflect.TypeFor[M]().Kind() == reflect.Interface {
		return nil, errspkg.ErrMessageTypeRequired
	}
	name := MessageTypeName[M]()

	return DecoderFunc[M](func(env *envelope.Envelope) (M, error) {
		msg, err := jsoncodec.UnmarshalAs[M](env.Body)
		if err != nil {
			var zero M
			return zero, &errspkg.DecodeError{ContentType: env.ContentType, MessageType: name, Cause: err}
		}
		return msg, nil
	}), nil
}

// EncodeJSON marshals msg into a new envelope carrying headers and the
// message type.
func EncodeJSON(msg any, headers envelope.Headers) (*envelope.Envelope, error) {
	if msg == nil || isNilPointer(msg) {
		return nil, errspkg.ErrPayloadRequired
	}
	body, err := jsoncodec.Marshal(msg)
	if err != nil {
		return nil, err
	}
	env := envelope.New(body, ContentTypeJSON)
	env.Headers = headers.Clone()
	env.Headers.Set(MetadataKeyMessageType, messageTypeOf(msg))
	return env, nil
}

func isNilPointer(v any) bool {
	val := reflect.ValueOf(v)
	return val.Kind() == reflect.Ptr && val.IsNil()
}
