// Package envelope defines the message unit that moves through busflow: a body,
// a header map and the transport fields brokers attach to a delivery.
package envelope

import (
	"bytes"
	"io"
	"time"
)

// DefaultContentType is used when an inbound message does not declare one.
const DefaultContentType = "application/json"

// Envelope is a received or outbound message. Once received it is treated as
// immutable; moves build a fresh Envelope instead of editing the inbound one.
type Envelope struct {
	Body        []byte
	ContentType string
	Headers     Headers

	MessageID        string
	CorrelationID    string
	Label            string
	TimeToLive       time.Duration
	PartitionKey     string
	ReplyTo          string
	ReplyToSessionID string
	SessionID        string
	ForcePersistence bool

	// SentTime is when the producer handed the envelope to the transport. A zero
	// value disables time-to-live expiry checks.
	SentTime time.Time
}

// New returns an envelope with an initialised header map.
func New(body []byte, contentType string) *Envelope {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Envelope{
		Body:        body,
		ContentType: contentType,
		Headers:     Headers{},
	}
}

// BodyReader returns a reader over the body bytes. The envelope body is shared,
// not copied.
func (e *Envelope) BodyReader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(e.Body))
}

// Expired reports whether the envelope has outlived its time-to-live at now.
func (e *Envelope) Expired(now time.Time) bool {
	if e.TimeToLive <= 0 || e.SentTime.IsZero() {
		return false
	}
	return now.After(e.SentTime.Add(e.TimeToLive))
}

// Clone returns a deep copy of the envelope so a caller can take ownership of
// the copy without aliasing headers or body.
func (e *Envelope) Clone() *Envelope {
	cloned := *e
	cloned.Headers = e.Headers.Clone()
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	return &cloned
}
