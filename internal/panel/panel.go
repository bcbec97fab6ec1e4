// Package panel binds the two operator controls, the "Priming" toggle and
// the "Droplet" button, to the solenoid controller and owns the status text
// shown next to them.
package panel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/sweeney/droplet/internal/solenoid"
)

// Status is the text displayed on the panel.
type Status string

const (
	StatusWaiting  Status = "Waiting"
	StatusPriming  Status = "Priming"
	StatusDropping Status = "Dropping"
)

var (
	// ErrDropletDisabled is returned by Droplet while priming is on.
	ErrDropletDisabled = errors.New("panel: droplet disabled while priming")

	// ErrBusy is returned while a droplet is in progress.
	ErrBusy = errors.New("panel: droplet in progress")
)

// Valve is the part of the solenoid controller the panel drives.
type Valve interface {
	Open() error
	Close() error
	Pulse() error
	State() solenoid.State
}

// View is what the panel currently shows.
type View struct {
	Status         Status `json:"status"`
	Priming        bool   `json:"priming"`
	DropletEnabled bool   `json:"droplet_enabled"`
	Error          string `json:"error,omitempty"`
}

// Panel holds the control state. Safe for concurrent use.
type Panel struct {
	mu       sync.Mutex
	valve    Valve
	priming  bool
	dropping bool
	lastErr  error
	onChange []func(View)
	logger   *slog.Logger
}

// Option configures a Panel.
type Option func(*Panel)

// WithOnChange registers a callback invoked after every view change. It is
// called with the panel lock held and must not call back into the panel.
func WithOnChange(fn func(View)) Option {
	return func(p *Panel) { p.onChange = append(p.onChange, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Panel) { p.logger = l }
}

// New creates a panel in the Waiting state with the droplet button enabled.
func New(valve Valve, opts ...Option) *Panel {
	p := &Panel{
		valve:  valve,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// View returns the current view.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

// SetPriming handles the toggle. On opens the valve and disables the
// droplet button; off closes it and enables the button again.
func (p *Panel) SetPriming(on bool) (View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dropping {
		return p.view(), ErrBusy
	}

	var err error
	if on {
		err = p.valve.Open()
	} else {
		err = p.valve.Close()
	}
	p.lastErr = err

	if err != nil {
		p.logger.Error("priming toggle failed", "on", on, "error", err)
		p.priming = p.valve.State() == solenoid.StateOpen
	} else {
		p.priming = on
		p.logger.Info("priming changed", "on", on)
	}

	v := p.view()
	p.notify(v)
	return v, err
}

// Droplet handles the button: it pulses the valve once. It blocks for the
// pulse; other callers see Dropping and get ErrBusy.
func (p *Panel) Droplet() (View, error) {
	p.mu.Lock()
	if p.priming {
		v := p.view()
		p.mu.Unlock()
		return v, ErrDropletDisabled
	}
	if p.dropping {
		v := p.view()
		p.mu.Unlock()
		return v, ErrBusy
	}
	p.dropping = true
	p.lastErr = nil
	p.notify(p.view())
	p.mu.Unlock()

	err := p.valve.Pulse()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropping = false
	p.lastErr = err
	if err != nil {
		p.logger.Error("droplet failed", "error", err)
		// A failed close leaves the valve open; show it as priming so the
		// toggle can close it.
		p.priming = p.valve.State() == solenoid.StateOpen
	}

	v := p.view()
	p.notify(v)
	return v, err
}

// view must be called with mu held.
func (p *Panel) view() View {
	v := View{
		Status:         StatusWaiting,
		Priming:        p.priming,
		DropletEnabled: !p.priming && !p.dropping,
	}
	switch {
	case p.dropping:
		v.Status = StatusDropping
	case p.priming:
		v.Status = StatusPriming
	}
	if p.lastErr != nil {
		v.Error = p.lastErr.Error()
	}
	return v
}

func (p *Panel) notify(v View) {
	for _, fn := range p.onChange {
		fn(v)
	}
}
