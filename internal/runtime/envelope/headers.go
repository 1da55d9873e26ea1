package envelope

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultReservedPrefix marks internal bookkeeping headers that must never be
// propagated when an envelope is moved to another endpoint.
const DefaultReservedPrefix = "MT-"

// Reserved header keys written by busflow.
const (
	HeaderReason             = "MT-Reason"
	HeaderFaultExceptionType = "MT-Fault-ExceptionType"
	HeaderFaultMessage       = "MT-Fault-Message"
	HeaderFaultTimestamp     = "MT-Fault-Timestamp"
	HeaderFaultInputAddress  = "MT-Fault-InputAddress"
	HeaderFaultRetryCount    = "MT-Fault-RetryCount"
	HeaderRedeliveryCount    = "MT-Redelivery-Count"

	// HeaderSagaPreInsertConflict is set on a delivery after an eager saga
	// insert reported a duplicate, so the next attempt goes through lookup.
	HeaderSagaPreInsertConflict = "MT-Saga-PreInsert-Conflict"
)

// Headers maps header keys to scalar values. Later writes to the same key win.
type Headers map[string]any

// Get returns the raw value stored under key.
func (h Headers) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	v, ok := h[key]
	return v, ok
}

// GetString returns the value under key formatted as a string.
func (h Headers) GetString(key string) (string, bool) {
	v, ok := h.Get(key)
	if !ok {
		return "", false
	}
	return FormatValue(v), true
}

// Set stores value under key, overwriting any previous value.
func (h Headers) Set(key string, value any) {
	h[key] = value
}

// Clone returns a shallow copy; header values are scalars so this does not alias.
func (h Headers) Clone() Headers {
	cloned := make(Headers, len(h))
	for k, v := range h {
		cloned[k] = v
	}
	return cloned
}

// CopyUnreserved copies every entry of src whose key does not start with
// prefix into h. An empty prefix copies everything.
func (h Headers) CopyUnreserved(src Headers, prefix string) {
	for k, v := range src {
		if prefix != "" && strings.HasPrefix(k, prefix) {
			continue
		}
		h[k] = v
	}
}

// FormatValue renders a header value the way it is written to string-only
// broker metadata.
func FormatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return value.String()
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}
