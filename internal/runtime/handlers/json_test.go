package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

type orderSubmitted struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

func TestJSONRoundTripValueAndPointer(t *testing.T) {
	env, err := EncodeJSON(orderSubmitted{OrderID: "o-1", Qty: 2}, envelope.Headers{"tenant": "acme"})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, env.ContentType)
	assert.Equal(t, "handlers.orderSubmitted", env.Headers[MetadataKeyMessageType])
	assert.Equal(t, "acme", env.Headers["tenant"])

	byValue, err := JSONDecoder[orderSubmitted]()
	require.NoError(t, err)
	v, err := byValue.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, orderSubmitted{OrderID: "o-1", Qty: 2}, v)

	byPointer, err := JSONDecoder[*orderSubmitted]()
	require.NoError(t, err)
	p, err := byPointer.Decode(env)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "o-1", p.OrderID)

	again, err := byPointer.Decode(env)
	require.NoError(t, err)
	assert.NotSame(t, p, again)
}

func TestJSONDecoderRejectsInvalidBody(t *testing.T) {
	dec, err := JSONDecoder[orderSubmitted]()
	require.NoError(t, err)

	_, err = dec.Decode(envelope.New([]byte("{"), ContentTypeJSON))
	assert.ErrorIs(t, err, errspkg.ErrDecode)
	assert.False(t, errspkg.IsRetryable(err))
}

func TestJSONDecoderRequiresConcreteType(t *testing.T) {
	_, err := JSONDecoder[any]()
	assert.ErrorIs(t, err, errspkg.ErrMessageTypeRequired)
}

func TestEncodeJSONRequiresPayload(t *testing.T) {
	_, err := EncodeJSON(nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)

	var nilOrder *orderSubmitted
	_, err = EncodeJSON(nilOrder, nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)
}

func TestEncodeJSONDoesNotAliasHeaders(t *testing.T) {
	headers := envelope.Headers{"tenant": "acme"}
	env, err := EncodeJSON(orderSubmitted{OrderID: "o-1"}, headers)
	require.NoError(t, err)
	env.Headers.Set("tenant", "other")
	assert.Equal(t, "acme", headers["tenant"])
	_, has := headers[MetadataKeyMessageType]
	assert.False(t, has)
}

func TestMessageTypeName(t *testing.T) {
	assert.Equal(t, "handlers.orderSubmitted", MessageTypeName[orderSubmitted]())
	assert.Equal(t, "*handlers.orderSubmitted", MessageTypeName[*orderSubmitted]())
}
