package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Valve         string     `json:"valve"`
	Panel         PanelJSON  `json:"panel"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"counts"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorTime string     `json:"last_error_time,omitempty"`
	Board         BoardJSON  `json:"board"`
	Config        ConfigJSON `json:"config"`
}

// PanelJSON is the JSON representation of the panel view.
type PanelJSON struct {
	Status         string `json:"status"`
	Priming        bool   `json:"priming"`
	DropletEnabled bool   `json:"droplet_enabled"`
	Error          string `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of operation counts.
type CountsJSON struct {
	Opens       int `json:"opens"`
	Closes      int `json:"closes"`
	Pulses      int `json:"pulses"`
	WriteErrors int `json:"write_errors"`
}

// BoardJSON is the JSON representation of board info.
type BoardJSON struct {
	Driver       string `json:"driver"`
	Port         string `json:"port,omitempty"`
	Pin          int    `json:"pin"`
	Firmware     string `json:"firmware,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
	BytesDrained uint64 `json:"bytes_drained"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PulseMs  int64  `json:"pulse_ms"`
	Broker   string `json:"broker"`
	HTTPAddr string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	valve := string(snap.Valve)
	if valve == "" {
		valve = "UNKNOWN"
	}

	inner := StatusInner{
		Valve: valve,
		Panel: PanelJSON{
			Status:         string(snap.Panel.Status),
			Priming:        snap.Panel.Priming,
			DropletEnabled: snap.Panel.DropletEnabled,
			Error:          snap.Panel.Error,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Opens:       snap.Counts.Opens,
			Closes:      snap.Counts.Closes,
			Pulses:      snap.Counts.Pulses,
			WriteErrors: snap.Counts.WriteErrors,
		},
		LastError: snap.LastError,
		Board: BoardJSON{
			Driver:       snap.Board.Driver,
			Port:         snap.Board.Port,
			Pin:          snap.Board.Pin,
			Firmware:     snap.Board.Firmware,
			Protocol:     snap.Board.Protocol,
			BytesDrained: snap.Board.BytesDrained,
		},
		Config: ConfigJSON{
			PulseMs:  snap.Config.PulseMs,
			Broker:   snap.Config.Broker,
			HTTPAddr: snap.Config.HTTPAddr,
		},
	}
	if !snap.LastErrorAt.IsZero() {
		inner.LastErrorTime = snap.LastErrorAt.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
