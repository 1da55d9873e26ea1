// Package jsoncodec is the JSON codec shared by envelopes, saga repositories
// and the introspection endpoint.
package jsoncodec

import (
	"io"
	"reflect"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool { return api.Valid(data) }

func Encode(w io.Writer, v any) error { return api.NewEncoder(w).Encode(v) }

func Decode(r io.Reader, v any) error { return api.NewDecoder(r).Decode(v) }

// UnmarshalAs decodes data into a fresh T. When T is a pointer type the
// pointee is allocated first, so the result is never a nil pointer.
func UnmarshalAs[T any](data []byte) (T, error) {
	var out T
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		out = reflect.New(t.Elem()).Interface().(T)
		return out, api.Unmarshal(data, out)
	}
	return out, api.Unmarshal(data, &out)
}
