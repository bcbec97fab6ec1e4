// Package gpio provides the digital output that drives the solenoid, with
// hardware abstraction.
// Real implementations use the Linux GPIO character device or periph.io host
// pins; Firmata boards live in package firmata and satisfy the same Writer.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Level is the logical value written to an output pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Writer drives a single digital output.
type Writer interface {
	// Write sets the output to the given level.
	Write(level Level) error

	// Close releases the pin and the connection behind it.
	Close() error
}

// DefaultPin is the digital pin the solenoid driver is wired to.
const DefaultPin = 7

// ConnectionError reports that the board or pin could not be acquired.
type ConnectionError struct {
	Driver string
	Port   string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s board on %s: %v", e.Driver, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports a failed pin write after the connection was established.
type WriteError struct {
	Level Level
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Level, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrClosed is returned by writers used after Close.
var ErrClosed = errors.New("gpio: pin closed")
