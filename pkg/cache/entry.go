package cache

import (
	"time"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// Entry is an immutable cached resolve result. A nil Policy with a
// non-zero ExpiresAt is a NotFound tombstone; a zero ExpiresAt marks an
// invalidated key.
type Entry struct {
	Policy     *policy.AccessPolicy
	StoredAt   time.Time
	ExpiresAt  time.Time
	Generation uint64
}

// NotFound reports whether the entry is a negative result
func (e *Entry) NotFound() bool {
	return e.Policy == nil
}

// Valid reports whether the entry may be served at now
func (e *Entry) Valid(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.Before(e.ExpiresAt)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock
var SystemClock Clock = ClockFunc(time.Now)
