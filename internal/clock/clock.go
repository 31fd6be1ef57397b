package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for deterministic tests.
// Params: current timestamp value behind a mutex.
// Returns: clock advanced only by explicit calls.
type Manual struct {
	mu      sync.Mutex
	current time.Time
}

// NewManual creates a manual clock starting at the given instant.
// Params: initial timestamp.
// Returns: initialized manual clock.
func NewManual(start time.Time) *Manual {
	return &Manual{current: start.UTC()}
}

// Now returns the currently set timestamp.
// Params: none.
// Returns: stored UTC timestamp.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward.
// Params: duration to add.
// Returns: none.
func (m *Manual) Advance(delta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(delta)
}

// Set replaces the clock instant.
// Params: new timestamp.
// Returns: none.
func (m *Manual) Set(instant time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = instant.UTC()
}
