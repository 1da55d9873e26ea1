package receive

import (
	"time"

	"github.com/drblury/busflow/internal/runtime/envelope"
)

// MessageContext exposes the transport fields of a delivery as reported by the
// broker binding. Operations that relocate envelopes require it as a payload.
type MessageContext interface {
	MessageID() string
	// CorrelationID is empty when the delivery carries none.
	CorrelationID() string
	Label() string
	TimeToLive() time.Duration
	PartitionKey() string
	ReplyTo() string
	ReplyToSessionID() string
	SessionID() string
	ForcePersistence() bool
	SentTime() time.Time
	Properties() envelope.Headers
}

// EnvelopeMessageContext reads transport fields straight off an envelope. It
// serves every binding that maps its metadata onto envelope fields.
type EnvelopeMessageContext struct {
	env *envelope.Envelope
}

func NewEnvelopeMessageContext(env *envelope.Envelope) *EnvelopeMessageContext {
	return &EnvelopeMessageContext{env: env}
}

func (m *EnvelopeMessageContext) MessageID() string            { return m.env.MessageID }
func (m *EnvelopeMessageContext) CorrelationID() string        { return m.env.CorrelationID }
func (m *EnvelopeMessageContext) Label() string                { return m.env.Label }
func (m *EnvelopeMessageContext) TimeToLive() time.Duration    { return m.env.TimeToLive }
func (m *EnvelopeMessageContext) PartitionKey() string         { return m.env.PartitionKey }
func (m *EnvelopeMessageContext) ReplyTo() string              { return m.env.ReplyTo }
func (m *EnvelopeMessageContext) ReplyToSessionID() string     { return m.env.ReplyToSessionID }
func (m *EnvelopeMessageContext) SessionID() string            { return m.env.SessionID }
func (m *EnvelopeMessageContext) ForcePersistence() bool       { return m.env.ForcePersistence }
func (m *EnvelopeMessageContext) SentTime() time.Time          { return m.env.SentTime }
func (m *EnvelopeMessageContext) Properties() envelope.Headers { return m.env.Headers }
