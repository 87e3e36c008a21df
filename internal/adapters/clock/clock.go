package clock

import (
	"sync"
	"time"
)

// Real implements ports.Clock using real system time.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fixed implements ports.Clock with a controllable time for testing.
// It is safe for concurrent use since background refreshes read it from goroutines.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a new Fixed clock at the given time.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now returns the fixed time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set updates the fixed time (useful for testing time progression).
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance adds a duration to the current fixed time.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
