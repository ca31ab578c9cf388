package ports

import "time"

// Clock abstracts wall-clock time so scheduled jobs can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }
