//go:build !linux

package gpio

import "errors"

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(chipName string, offset int) (*RealWriter, error) {
	return nil, &ConnectionError{
		Driver: "gpiocdev",
		Port:   chipName,
		Err:    errors.New("gpio: not supported on this platform (requires Linux)"),
	}
}

// Write is not implemented on non-Linux platforms.
func (r *RealWriter) Write(Level) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealWriter) Close() error {
	return nil
}
