// Package handlers decodes envelope bodies into typed messages and encodes
// typed messages into envelopes.
package handlers

import (
	"fmt"
	"reflect"

	"github.com/drblury/busflow/internal/runtime/envelope"
)

// Decoder turns an envelope body into a message of type M.
type Decoder[M any] interface {
	Decode(env *envelope.Envelope) (M, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[M any] func(env *envelope.Envelope) (M, error)

func (f DecoderFunc[M]) Decode(env *envelope.Envelope) (M, error) { return f(env) }

// MessageTypeName returns the name written under MetadataKeyMessageType for M.
func MessageTypeName[M any]() string {
	return reflect.TypeFor[M]().String()
}

func messageTypeOf(v any) string {
	return fmt.Sprintf("%T", v)
}
