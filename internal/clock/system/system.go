// Package system provides the clocks handed to the crawl engine and the API.
package system

import "time"

// Clock reads UTC wall time.
type Clock struct{}

// New returns the wall clock.
func New() Clock { return Clock{} }

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to the Clock interfaces.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// Fixed returns a clock frozen at t, normalized to UTC.
func Fixed(t time.Time) Func {
	t = t.UTC()
	return func() time.Time { return t }
}
