package auth

import "time"

// Clock is the source of the current time. Tests substitute a fixed clock to
// exercise expiry without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns wall-clock time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
