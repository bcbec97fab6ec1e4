// Package solenoid contains the valve control logic: open, close and timed
// pulses ("droplets") on a single digital output.
// It has no hardware dependencies of its own; the pin is a gpio.Writer and
// the blocking wait is injectable for tests.
package solenoid

import (
	"errors"
	"time"
)

// DefaultPulse is how long a droplet holds the valve open.
const DefaultPulse = 500 * time.Millisecond

// State is the valve state implied by the last successful write.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

// Op identifies a controller operation.
type Op string

const (
	OpOpen  Op = "open"
	OpClose Op = "close"
	OpPulse Op = "pulse"
)

// Event describes a completed (or failed) controller operation.
type Event struct {
	Time  time.Time
	Op    Op
	State State // state after the operation
	// Duration is how long a pulse actually held the valve open.
	Duration time.Duration
	// Err is set when the operation failed.
	Err error
}

// Observer receives controller events. It is called synchronously with the
// pin lock held and must not call back into the controller.
type Observer func(Event)

// ErrReleased is returned by operations after Release.
var ErrReleased = errors.New("solenoid: controller released")

// ErrInvalidPulse is returned for a non-positive pulse duration.
var ErrInvalidPulse = errors.New("solenoid: pulse duration must be positive")
