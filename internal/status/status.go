// Package status provides a thread-safe status tracker for the droplet daemon.
// It is read by the HTTP handlers and by MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/droplet/internal/panel"
	"github.com/sweeney/droplet/internal/solenoid"
)

// Counts tallies controller operations since startup.
type Counts struct {
	Opens       int
	Closes      int
	Pulses      int
	WriteErrors int
}

// BoardInfo describes the pin driver. Drained bytes and firmware are only
// reported by Firmata boards.
type BoardInfo struct {
	Driver       string
	Port         string
	Pin          int
	Firmware     string
	Protocol     string
	BytesDrained uint64
}

// Config contains daemon configuration for display.
type Config struct {
	PulseMs  int64
	Broker   string
	HTTPAddr string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Valve         solenoid.State
	Panel         panel.View
	Counts        Counts
	LastError     string
	LastErrorAt   time.Time
	Board         BoardInfo
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	board func() BoardInfo
}

// NewTracker creates a Tracker with the given start time and config.
// The valve starts CLOSED and the panel Waiting.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Valve:     solenoid.StateClosed,
			Panel:     panel.View{Status: panel.StatusWaiting, DropletEnabled: true},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Observe records a controller event. It is a solenoid.Observer.
func (t *Tracker) Observe(e solenoid.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Valve = e.State
	if e.Err != nil {
		// Pulse events repeat the error of the write that failed.
		if e.Op != solenoid.OpPulse {
			t.snap.Counts.WriteErrors++
		}
		t.snap.LastError = e.Err.Error()
		t.snap.LastErrorAt = e.Time
		return
	}

	switch e.Op {
	case solenoid.OpOpen:
		t.snap.Counts.Opens++
	case solenoid.OpClose:
		t.snap.Counts.Closes++
	case solenoid.OpPulse:
		t.snap.Counts.Pulses++
	}
}

// SetPanel records the current panel view.
func (t *Tracker) SetPanel(v panel.View) {
	t.mu.Lock()
	t.snap.Panel = v
	t.mu.Unlock()
}

// SetBoard sets a function that reports board info. It is called on every
// Snapshot, so it must be cheap and safe for concurrent use.
func (t *Tracker) SetBoard(fn func() BoardInfo) {
	t.mu.Lock()
	t.board = fn
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	board := t.board
	t.mu.RUnlock()

	if board != nil {
		s.Board = board()
	}
	s.Now = time.Now()
	return s
}
