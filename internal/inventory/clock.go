package inventory

import (
	"sync/atomic"
	"time"
)

// Timestamp is a UTC instant expressed in unix microseconds.
type Timestamp int64

// TimestampOf converts a wall-clock time to a Timestamp.
func TimestampOf(value time.Time) Timestamp {
	return Timestamp(value.UTC().UnixMicro())
}

// Time returns the instant as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

func (t Timestamp) Int64() int64 {
	return int64(t)
}

// IsZero reports whether the timestamp is the epoch, the initial watermark.
func (t Timestamp) IsZero() bool {
	return t == 0
}

// Later returns the later of the two timestamps.
func (t Timestamp) Later(other Timestamp) Timestamp {
	if other > t {
		return other
	}
	return t
}

// Clock issues strictly increasing timestamps for this process, even when the
// wall clock stalls or steps backwards.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock wraps a wall-clock source. A nil source means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the next timestamp, always greater than any previously returned one.
func (c *Clock) Now() Timestamp {
	for {
		previous := c.last.Load()
		candidate := int64(TimestampOf(c.now()))
		if candidate <= previous {
			candidate = previous + 1
		}
		if c.last.CompareAndSwap(previous, candidate) {
			return Timestamp(candidate)
		}
	}
}

// Advance returns a timestamp strictly after previous, preferring the current clock.
func (c *Clock) Advance(previous Timestamp) Timestamp {
	return c.Now().Later(previous + 1)
}
