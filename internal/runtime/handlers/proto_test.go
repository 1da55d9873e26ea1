package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

func TestProtoRoundTrip(t *testing.T) {
	src, err := structpb.NewStruct(map[string]any{"order": "o-1", "qty": 3})
	require.NoError(t, err)

	env, err := EncodeProto(src, envelope.Headers{"tenant": "acme"})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeProtoJSON, env.ContentType)
	assert.Equal(t, "*structpb.Struct", env.Headers[MetadataKeyMessageType])
	assert.Equal(t, "acme", env.Headers["tenant"])

	dec, err := ProtoDecoder[*structpb.Struct]()
	require.NoError(t, err)

	first, err := dec.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, "o-1", first.GetFields()["order"].GetStringValue())
	assert.EqualValues(t, 3, first.GetFields()["qty"].GetNumberValue())

	second, err := dec.Decode(env)
	require.NoError(t, err)
	assert.NotSame(t, first, second, "every decode allocates a fresh message")
}

func TestProtoDecoderRejectsInvalidBody(t *testing.T) {
	dec, err := ProtoDecoder[*structpb.Struct]()
	require.NoError(t, err)

	_, err = dec.Decode(envelope.New([]byte("not json"), ContentTypeProtoJSON))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
	assert.False(t, errspkg.IsRetryable(err))

	var decodeErr *errspkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "*structpb.Struct", decodeErr.MessageType)
}

func TestEncodeProtoRequiresMessage(t *testing.T) {
	var nilStruct *structpb.Struct
	_, err := EncodeProto(nilStruct, nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)
	_, err = EncodeProto(nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)
}

func TestEnsureProtoPrototype(t *testing.T) {
	var nilStruct *structpb.Struct
	got, err := EnsureProtoPrototype(nilStruct)
	require.NoError(t, err)
	require.NotNil(t, got)

	s := &structpb.Struct{}
	got, err = EnsureProtoPrototype(s)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestClonePrototypeResetsState(t *testing.T) {
	src, err := structpb.NewStruct(map[string]any{"a": "b"})
	require.NoError(t, err)

	cloned, err := clonePrototype(src)
	require.NoError(t, err)
	assert.Empty(t, cloned.GetFields())
	assert.Len(t, src.GetFields(), 1)

	var zero *structpb.Struct
	_, err = clonePrototype(zero)
	assert.ErrorIs(t, err, errspkg.ErrMessageTypeRequired)
}
