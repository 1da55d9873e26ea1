// Package ids creates envelope message ids and correlation ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a message id for the current time.
func CreateULID() string {
	return CreateULIDAt(time.Now())
}

// CreateULIDAt returns a message id whose timestamp is at. Ids created within
// the same millisecond increase monotonically.
func CreateULIDAt(at time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// MessageTime extracts the timestamp encoded in a message id.
func MessageTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

// CreateCorrelationID returns a time-ordered UUIDv7 string suitable as an
// envelope correlation id.
func CreateCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
