// Package timesource provides the wall-clock timestamps stamped on capture
// records.
package timesource

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Layout is the record timestamp format, local time without zone.
const Layout = "2006-01-02T15:04:05"

// Format renders t in Layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// System reads the local time from a clock.
type System struct {
	clock clock.Clock
}

// NewSystem creates a time source backed by c. A nil clock means the real one.
func NewSystem(c clock.Clock) *System {
	if c == nil {
		c = clock.New()
	}
	return &System{clock: c}
}

// CurrentDateTime returns the current time, or "" when the clock has not
// been set. An unset clock reads as the zero time or the Unix epoch.
func (s *System) CurrentDateTime() string {
	now := s.clock.Now()
	if now.IsZero() || now.Unix() <= 0 {
		return ""
	}
	return Format(now)
}

// Now returns the clock's current time.
func (s *System) Now() time.Time {
	return s.clock.Now()
}
