// Package mqtt publishes valve and lifecycle events to an MQTT broker, with
// a fake for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/droplet/internal/events"
)

// Topic is the MQTT topic for valve events.
const Topic = "lab/droplet/valve/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "lab/droplet/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a valve event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event events.ValveEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Valve ValvePayload `json:"valve"`
}

// ValvePayload contains the valve event details.
type ValvePayload struct {
	Timestamp  string `json:"timestamp"`
	Op         string `json:"op"`
	State      string `json:"state"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FormatPayload creates the JSON payload for a valve event.
func FormatPayload(event events.ValveEvent) ([]byte, error) {
	payload := Payload{
		Valve: ValvePayload{
			Timestamp:  event.Time.UTC().Format(time.RFC3339Nano),
			Op:         string(event.Op),
			State:      string(event.State),
			DurationMs: event.Duration.Milliseconds(),
			Error:      event.Error,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the retained message the broker publishes if the daemon
// disappears without a SHUTDOWN.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"}})
	return data
}
