package errors

import (
	sterrors "errors"
	"fmt"

	"github.com/google/uuid"
)

// Category sentinels matched through errors.Is by the typed errors below.
var (
	ErrConfiguration            = sterrors.New("busflow: configuration error")
	ErrArgument                 = sterrors.New("busflow: argument error")
	ErrSagaProtocolViolation    = sterrors.New("busflow: saga protocol violation")
	ErrDuplicateSaga            = sterrors.New("busflow: saga instance already exists")
	ErrSagaConcurrency          = sterrors.New("busflow: saga instance was modified concurrently")
	ErrTransport                = sterrors.New("busflow: transport fault")
	ErrMessageTimeToLiveExpired = sterrors.New("busflow: message time-to-live expired")
	ErrDecode                   = sterrors.New("busflow: message could not be decoded")
)

// ConfigurationError reports an invalid runtime construction, such as an empty
// pipeline. It is fatal at startup and never retried.
type ConfigurationError struct {
	Component string
	Cause     error
}

func NewConfigurationError(component string, cause error) *ConfigurationError {
	return &ConfigurationError{Component: component, Cause: cause}
}

func (e *ConfigurationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("busflow: invalid %s configuration", e.Component)
	}
	return fmt.Sprintf("busflow: invalid %s configuration: %v", e.Component, e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ArgumentError reports caller misuse, typically a context that lacks a
// capability an operation depends on.
type ArgumentError struct {
	Argument string
	Message  string
}

func NewArgumentError(argument, message string) *ArgumentError {
	return &ArgumentError{Argument: argument, Message: message}
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("busflow: %s (argument %q)", e.Message, e.Argument)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrArgument }

// SagaError is raised when a message breaks the contract of the saga policy it
// was routed through.
type SagaError struct {
	Message       string
	SagaType      string
	MessageType   string
	CorrelationID uuid.UUID
}

func NewSagaError(message, sagaType, messageType string, correlationID uuid.UUID) *SagaError {
	return &SagaError{
		Message:       message,
		SagaType:      sagaType,
		MessageType:   messageType,
		CorrelationID: correlationID,
	}
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("busflow: %s (saga=%s message=%s correlation_id=%s)",
		e.Message, e.SagaType, e.MessageType, e.CorrelationID)
}

func (e *SagaError) Is(target error) bool { return target == ErrSagaProtocolViolation }

// DuplicateSagaError is surfaced when an eager insert collides with an instance
// that already exists. The delivery may be retried.
type DuplicateSagaError struct {
	SagaType      string
	CorrelationID uuid.UUID
	Cause         error
}

func (e *DuplicateSagaError) Error() string {
	return fmt.Sprintf("busflow: saga %s with correlation_id=%s already exists", e.SagaType, e.CorrelationID)
}

func (e *DuplicateSagaError) Unwrap() error { return e.Cause }

func (e *DuplicateSagaError) Is(target error) bool { return target == ErrDuplicateSaga }

// TransportError wraps failures raised by the underlying transport send.
type TransportError struct {
	Address string
	Cause   error
}

func NewTransportError(address string, cause error) *TransportError {
	return &TransportError{Address: address, Cause: cause}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("busflow: transport fault on %s: %v", e.Address, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MessageTimeToLiveExpiredError marks an envelope that outlived its
// time-to-live before it could be consumed.
type MessageTimeToLiveExpiredError struct {
	Address   string
	MessageID string
}

func (e *MessageTimeToLiveExpiredError) Error() string {
	return fmt.Sprintf("busflow: message %s on %s expired before it was consumed", e.MessageID, e.Address)
}

func (e *MessageTimeToLiveExpiredError) Is(target error) bool {
	return target == ErrMessageTimeToLiveExpired || target == ErrTransport
}

// DecodeError reports an envelope body that could not be decoded into the
// consumed message type.
type DecodeError struct {
	ContentType string
	MessageType string
	Cause       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("busflow: decode %s as %s: %v", e.ContentType, e.MessageType, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// IsRetryable reports whether another attempt at the same delivery can succeed.
// Protocol violations, argument and configuration errors and expired messages
// are permanent.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case sterrors.Is(err, ErrSkip),
		sterrors.Is(err, ErrDeadLetter),
		sterrors.Is(err, ErrConfiguration),
		sterrors.Is(err, ErrArgument),
		sterrors.Is(err, ErrSagaProtocolViolation),
		sterrors.Is(err, ErrMessageTimeToLiveExpired),
		sterrors.Is(err, ErrDecode):
		return false
	}
	return true
}
