package move

import (
	"fmt"
	"strconv"
	"time"

	"github.com/drblury/busflow/internal/runtime/envelope"
	"github.com/drblury/busflow/internal/runtime/receive"
)

// Values written to envelope.HeaderReason.
const (
	ReasonFault      = "fault"
	ReasonSkipped    = "skipped"
	ReasonTTLExpired = "ttl-expired"
	ReasonDeadLetter = "dead-letter"
)

// Reason classifies a moved envelope from its headers alone. A fault reason
// includes the fault message when present.
func Reason(headers envelope.Headers) string {
	reason, ok := headers.GetString(envelope.HeaderReason)
	if !ok {
		return ""
	}
	if reason != ReasonFault {
		return reason
	}
	if msg, ok := headers.GetString(envelope.HeaderFaultMessage); ok {
		return "Fault: " + msg
	}
	return "Fault"
}

// ErrorTransport moves faulted envelopes and records the fault in headers.
type ErrorTransport struct {
	*Transport
}

func NewErrorTransport(t *Transport) *ErrorTransport {
	return &ErrorTransport{Transport: t}
}

// Send moves the envelope in rc, stamping cause as the fault.
func (e *ErrorTransport) Send(rc *receive.Context, cause error) error {
	retries := redeliveryCount(rc.Envelope().Headers)
	return e.Move(rc, func(_ *envelope.Envelope, headers envelope.Headers) {
		headers.Set(envelope.HeaderReason, ReasonFault)
		if cause != nil {
			headers.Set(envelope.HeaderFaultExceptionType, fmt.Sprintf("%T", cause))
			headers.Set(envelope.HeaderFaultMessage, cause.Error())
		}
		headers.Set(envelope.HeaderFaultTimestamp, time.Now().UTC())
		headers.Set(envelope.HeaderFaultInputAddress, rc.InputAddress())
		headers.Set(envelope.HeaderFaultRetryCount, retries)
	})
}

// DeadLetterTransport moves envelopes that were not faulted, such as skipped
// or expired ones.
type DeadLetterTransport struct {
	*Transport
}

func NewDeadLetterTransport(t *Transport) *DeadLetterTransport {
	return &DeadLetterTransport{Transport: t}
}

// Send moves the envelope in rc with reason.
func (d *DeadLetterTransport) Send(rc *receive.Context, reason string) error {
	if reason == "" {
		reason = ReasonDeadLetter
	}
	return d.Move(rc, func(_ *envelope.Envelope, headers envelope.Headers) {
		headers.Set(envelope.HeaderReason, reason)
	})
}

func redeliveryCount(headers envelope.Headers) int {
	v, ok := headers.GetString(envelope.HeaderRedeliveryCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
