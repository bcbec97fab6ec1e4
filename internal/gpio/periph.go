package gpio

import (
	"errors"
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphWriter drives a host pin resolved through the periph.io registry.
type PeriphWriter struct {
	pin pgpio.PinIO
}

// NewPeriphWriter initialises the periph host and resolves GPIO<pin>.
func NewPeriphWriter(pin int) (*PeriphWriter, error) {
	name := fmt.Sprintf("GPIO%d", pin)
	if _, err := host.Init(); err != nil {
		return nil, &ConnectionError{Driver: "periph", Port: name, Err: fmt.Errorf("host init: %w", err)}
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, &ConnectionError{Driver: "periph", Port: name, Err: errors.New("pin not found in registry")}
	}
	if err := p.Out(pgpio.Low); err != nil {
		return nil, &ConnectionError{Driver: "periph", Port: name, Err: fmt.Errorf("set output: %w", err)}
	}

	return &PeriphWriter{pin: p}, nil
}

// Write drives the pin.
func (w *PeriphWriter) Write(level Level) error {
	if w.pin == nil {
		return ErrClosed
	}
	return w.pin.Out(toPeriph(level))
}

// Close drives the pin low and halts it.
func (w *PeriphWriter) Close() error {
	if w.pin == nil {
		return nil
	}
	p := w.pin
	w.pin = nil

	if err := p.Out(pgpio.Low); err != nil {
		return fmt.Errorf("drive %s low: %w", p.Name(), err)
	}
	return p.Halt()
}

func toPeriph(level Level) pgpio.Level {
	if level == High {
		return pgpio.High
	}
	return pgpio.Low
}
