package errors

import sterrors "errors"

var (
	ErrServiceRequired      = sterrors.New("busflow: bus service is required")
	ErrHandlerRequired      = sterrors.New("busflow: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("busflow: consume queue is required")
	ErrHandlerNameRequired  = sterrors.New("busflow: handler name is required")
	ErrPolicyRequired       = sterrors.New("busflow: saga policy is required")
	ErrRepositoryRequired   = sterrors.New("busflow: saga repository is required")
	ErrFactoryRequired      = sterrors.New("busflow: saga factory is required")
	ErrPublisherRequired    = sterrors.New("busflow: publisher is required")
	ErrTopicRequired        = sterrors.New("busflow: topic is required")
	ErrAddressRequired      = sterrors.New("busflow: destination address is required")
	ErrConfigRequired       = sterrors.New("busflow: config is required")
	ErrLoggerRequired       = sterrors.New("busflow: logger is required")
	ErrPayloadRequired      = sterrors.New("busflow: message payload is required")
	ErrEmptyPipeline        = sterrors.New("busflow: pipeline requires at least one filter")
	ErrSupervisorClosed     = sterrors.New("busflow: send endpoint supervisor is closed")
	ErrMessageTypeRequired  = sterrors.New("busflow: message type must be a non-nil pointer")
)

// Handler outcome sentinels. Returning one of these from a consumer steers what
// the runtime does with the envelope.
var (
	// ErrSkip acknowledges the envelope after moving it to the skipped queue.
	ErrSkip = sterrors.New("busflow: skip message")

	// ErrRetry asks the retry middleware for another attempt.
	ErrRetry = sterrors.New("busflow: retry message")

	// ErrDeadLetter moves the envelope to the error queue without retrying.
	ErrDeadLetter = sterrors.New("busflow: dead letter message")
)

// ConfigValidationError wraps the joined errors returned by config validation.
type ConfigValidationError struct {
	Err error
}

// NewConfigValidationError returns nil when err is nil so callers can wrap the
// result of Validate unconditionally.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

func (e ConfigValidationError) Error() string {
	return "busflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }
