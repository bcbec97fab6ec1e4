package events

import (
	"time"

	"github.com/sweeney/droplet/internal/panel"
	"github.com/sweeney/droplet/internal/solenoid"
)

// Event type constants for kelindar/event.
const (
	TypeValve uint32 = iota + 1
	TypePanel
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ValveEvent is a completed controller operation.
type ValveEvent struct {
	Time     time.Time
	Op       solenoid.Op
	State    solenoid.State
	Duration time.Duration
	Error    string
}

// Type returns the event type identifier for ValveEvent.
func (e ValveEvent) Type() uint32 { return TypeValve }

// FromSolenoid converts a controller event.
func FromSolenoid(e solenoid.Event) ValveEvent {
	ve := ValveEvent{
		Time:     e.Time,
		Op:       e.Op,
		State:    e.State,
		Duration: e.Duration,
	}
	if e.Err != nil {
		ve.Error = e.Err.Error()
	}
	return ve
}

// PanelEvent is a change of the panel view.
type PanelEvent struct {
	Time time.Time
	View panel.View
}

// Type returns the event type identifier for PanelEvent.
func (e PanelEvent) Type() uint32 { return TypePanel }
