package solenoid

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/droplet/internal/gpio"
)

// Controller drives a solenoid valve through one output pin. Writes are
// serialised: a pulse holds the pin for its whole duration, so concurrent
// callers queue behind it.
type Controller struct {
	mu        sync.Mutex
	pin       gpio.Writer
	pulse     time.Duration
	state     State
	released  bool
	observers []Observer
	logger    *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures a Controller.
type Option func(*Controller)

// WithPulseDuration sets how long Pulse holds the valve open.
func WithPulseDuration(d time.Duration) Option {
	return func(c *Controller) { c.pulse = d }
}

// WithObserver registers an observer for controller events.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces the wall clock and the blocking wait used by Pulse.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Controller) {
		c.now = now
		c.sleep = sleep
	}
}

// New creates a controller for pin. The valve is assumed closed; nothing is
// written until the first operation.
func New(pin gpio.Writer, opts ...Option) (*Controller, error) {
	c := &Controller{
		pin:    pin,
		pulse:  DefaultPulse,
		state:  StateClosed,
		logger: slog.Default(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pulse <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPulse, c.pulse)
	}
	return c, nil
}

// Open writes HIGH, opening the valve. Opening an open valve re-asserts the
// level and succeeds.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.write(gpio.High)
	c.notify(Event{Time: c.now(), Op: OpOpen, State: c.state, Err: err})
	if err == nil {
		c.logger.Info("solenoid opened")
	}
	return err
}

// Close writes LOW, closing the valve. Closing a closed valve re-asserts the
// level and succeeds.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.write(gpio.Low)
	c.notify(Event{Time: c.now(), Op: OpClose, State: c.state, Err: err})
	if err == nil {
		c.logger.Info("solenoid closed")
	}
	return err
}

// Pulse opens the valve, blocks for the pulse duration and closes it again.
// When it returns nil the valve is closed. A pulse cannot be cancelled.
func (c *Controller) Pulse() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	if err := c.write(gpio.High); err != nil {
		c.notify(Event{Time: start, Op: OpOpen, State: c.state, Err: err})
		c.notify(Event{Time: start, Op: OpPulse, State: c.state, Err: err})
		return err
	}
	c.notify(Event{Time: start, Op: OpOpen, State: c.state})

	c.sleep(c.pulse)

	err := c.write(gpio.Low)
	end := c.now()
	c.notify(Event{Time: end, Op: OpClose, State: c.state, Err: err})
	c.notify(Event{Time: end, Op: OpPulse, State: c.state, Duration: end.Sub(start), Err: err})
	if err != nil {
		c.logger.Error("droplet close failed, valve may be stuck open", "error", err)
		return err
	}

	c.logger.Info("droplet created", "held", end.Sub(start))
	return nil
}

// State returns the valve state implied by the last successful write.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PulseDuration returns the configured pulse duration.
func (c *Controller) PulseDuration() time.Duration {
	return c.pulse
}

// Release closes the valve and releases the pin. It waits for an in-flight
// pulse to finish. Calling it again is a no-op.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}

	closeErr := c.write(gpio.Low)
	c.notify(Event{Time: c.now(), Op: OpClose, State: c.state, Err: closeErr})
	if closeErr != nil {
		c.logger.Warn("failed to close valve on release", "error", closeErr)
	}
	c.released = true

	if err := c.pin.Close(); err != nil {
		return fmt.Errorf("release pin: %w", err)
	}
	return closeErr
}

// write must be called with mu held.
func (c *Controller) write(level gpio.Level) error {
	if c.released {
		return ErrReleased
	}
	if err := c.pin.Write(level); err != nil {
		return &gpio.WriteError{Level: level, Err: err}
	}
	if level == gpio.High {
		c.state = StateOpen
	} else {
		c.state = StateClosed
	}
	return nil
}

func (c *Controller) notify(e Event) {
	for _, o := range c.observers {
		o(e)
	}
}
