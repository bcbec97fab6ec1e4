//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// RealWriter drives an output line using the Linux GPIO character device.
type RealWriter struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealWriter requests offset on the named chip as an output, initially low.
func NewRealWriter(chipName string, offset int) (*RealWriter, error) {
	if chipName == "" {
		chipName = DefaultChip
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, &ConnectionError{Driver: "gpiocdev", Port: chipName, Err: err}
	}

	line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("droplet"))
	if err != nil {
		chip.Close()
		return nil, &ConnectionError{Driver: "gpiocdev", Port: chipName, Err: fmt.Errorf("request line %d: %w", offset, err)}
	}

	return &RealWriter{chip: chip, line: line}, nil
}

// Write sets the line value.
func (r *RealWriter) Write(level Level) error {
	if r.line == nil {
		return ErrClosed
	}
	v := 0
	if level == High {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set line value: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// The line is driven low and reconfigured as input (matching Pi boot
// defaults) before closing so the valve cannot be left energised.
func (r *RealWriter) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive line low: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
		r.line = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
