package gpio

import (
	"sync"
	"time"
)

// FakeWriter is a test double that records every level written to it.
type FakeWriter struct {
	mu sync.Mutex

	// Writes contains every successful write, in order.
	Writes []Write

	// WriteError, if set, is returned by Write and nothing is recorded.
	WriteError error

	// FailOn, if set, makes only writes of that level fail with WriteError.
	FailOn *Level

	// Closed tracks if Close was called.
	Closed bool

	now func() time.Time
}

// Write is a single recorded pin write.
type Write struct {
	Level Level
	At    time.Time
}

// NewFakeWriter creates a FakeWriter stamped with the wall clock.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{now: time.Now}
}

// NewFakeWriterWithClock creates a FakeWriter that stamps writes with now.
func NewFakeWriterWithClock(now func() time.Time) *FakeWriter {
	return &FakeWriter{now: now}
}

// Write records the level.
func (f *FakeWriter) Write(level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Closed {
		return ErrClosed
	}
	if f.WriteError != nil && (f.FailOn == nil || *f.FailOn == level) {
		return f.WriteError
	}

	f.Writes = append(f.Writes, Write{Level: level, At: f.now()})
	return nil
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Levels returns the recorded levels in write order.
func (f *FakeWriter) Levels() []Level {
	f.mu.Lock()
	defer f.mu.Unlock()

	levels := make([]Level, len(f.Writes))
	for i, w := range f.Writes {
		levels[i] = w.Level
	}
	return levels
}

// Last returns the most recent level written and whether any write happened.
func (f *FakeWriter) Last() (Level, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Writes) == 0 {
		return Low, false
	}
	return f.Writes[len(f.Writes)-1].Level, true
}

// IsClosed reports whether Close was called.
func (f *FakeWriter) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Reset clears recorded writes and scripted failures.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	f.Writes = nil
	f.WriteError = nil
	f.FailOn = nil
	f.Closed = false
	f.mu.Unlock()
}
