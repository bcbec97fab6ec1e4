package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "droplet.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newFlags(t *testing.T, args ...string) (*Options, *pflag.FlagSet) {
	t.Helper()
	opts := &Options{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, opts)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return opts, fs
}

func TestDefaults(t *testing.T) {
	opts := Defaults()

	if opts.BoardDriver != DriverFirmata {
		t.Errorf("BoardDriver: got %q, want firmata", opts.BoardDriver)
	}
	if opts.BoardBaud != 57600 {
		t.Errorf("BoardBaud: got %d, want 57600", opts.BoardBaud)
	}
	if opts.BoardPin != 7 {
		t.Errorf("BoardPin: got %d, want 7", opts.BoardPin)
	}
	if opts.Pulse() != 500*time.Millisecond {
		t.Errorf("Pulse: got %v, want 500ms", opts.Pulse())
	}
	if opts.Settle() != 5*time.Second {
		t.Errorf("Settle: got %v, want 5s", opts.Settle())
	}
	if opts.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q, want :8080", opts.HTTPAddr)
	}
	if opts.MQTTBroker != "" {
		t.Errorf("MQTTBroker: got %q, want empty", opts.MQTTBroker)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestBindFlagsMatchesDefaults(t *testing.T) {
	opts, _ := newFlags(t)
	if *opts != *Defaults() {
		t.Errorf("flag defaults differ:\n got %+v\nwant %+v", *opts, *Defaults())
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[board]
driver = "gpiocdev"
pin = 17
chip = "gpiochip4"

[valve]
pulse = "125ms"

[mqtt]
broker = "tcp://localhost:1883"
`)
	opts, fs := newFlags(t, "--config", path)

	if err := Load(opts, fs); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.BoardDriver != DriverGPIOCDev {
		t.Errorf("BoardDriver: got %q", opts.BoardDriver)
	}
	if opts.BoardPin != 17 {
		t.Errorf("BoardPin: got %d, want 17", opts.BoardPin)
	}
	if opts.BoardChip != "gpiochip4" {
		t.Errorf("BoardChip: got %q", opts.BoardChip)
	}
	if opts.Pulse() != 125*time.Millisecond {
		t.Errorf("Pulse: got %v, want 125ms", opts.Pulse())
	}
	if opts.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("MQTTBroker: got %q", opts.MQTTBroker)
	}
	// Untouched keys keep their defaults.
	if opts.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q, want :8080", opts.HTTPAddr)
	}
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
[board]
port = "/dev/ttyUSB0"
baud = 115200

[valve]
pulse = "1s"
`)
	t.Setenv("DROPLET_BOARD_PORT", "/dev/ttyACM1")
	t.Setenv("DROPLET_VALVE_PULSE", "250ms")

	opts, fs := newFlags(t, "--config", path, "--pulse", "750ms")
	if err := Load(opts, fs); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// flag > env > file
	if opts.Pulse() != 750*time.Millisecond {
		t.Errorf("Pulse: got %v, want 750ms from flag", opts.Pulse())
	}
	if opts.BoardPort != "/dev/ttyACM1" {
		t.Errorf("BoardPort: got %q, want env value", opts.BoardPort)
	}
	if opts.BoardBaud != 115200 {
		t.Errorf("BoardBaud: got %d, want file value", opts.BoardBaud)
	}
}

func TestLoadMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	// Explicitly requested: error.
	opts, fs := newFlags(t, "--config", missing)
	if err := Load(opts, fs); err == nil {
		t.Error("expected error for missing explicit config")
	}

	// Set without the flag (e.g. default path): ignored.
	opts = Defaults()
	opts.Config = missing
	if err := Load(opts, nil); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[board\ndriver = ")
	opts := Defaults()
	opts.Config = path

	if err := Load(opts, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadWrongType(t *testing.T) {
	path := writeConfig(t, "[board]\npin = \"seven\"\n")
	opts := Defaults()
	opts.Config = path

	err := Load(opts, nil)
	if err == nil || !strings.Contains(err.Error(), "board.pin") {
		t.Errorf("Load: got %v, want error naming board.pin", err)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("DROPLET_BOARD_BAUD", "fast")
	opts := Defaults()

	err := Load(opts, nil)
	if err == nil || !strings.Contains(err.Error(), "DROPLET_BOARD_BAUD") {
		t.Errorf("Load: got %v, want error naming DROPLET_BOARD_BAUD", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"unknown driver", func(o *Options) { o.BoardDriver = "gobot" }, "unknown driver"},
		{"zero pulse", func(o *Options) { o.ValvePulse = "0s" }, "pulse"},
		{"negative pulse", func(o *Options) { o.ValvePulse = "-5ms" }, "pulse"},
		{"bad pulse", func(o *Options) { o.ValvePulse = "half a second" }, "pulse"},
		{"bad baud", func(o *Options) { o.BoardBaud = 0 }, "baud"},
		{"bad settle", func(o *Options) { o.BoardSettle = "soon" }, "settle"},
		{"firmata pin range", func(o *Options) { o.BoardPin = 200 }, "pin"},
		{"negative pin", func(o *Options) { o.BoardPin = -1 }, "pin"},
		{"log level", func(o *Options) { o.LoggingLevel = "trace" }, "log level"},
		{"log format", func(o *Options) { o.LoggingFormat = "xml" }, "log format"},
		{"mqtt buffer", func(o *Options) { o.MQTTBuffer = 0 }, "mqtt buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Defaults()
			tt.mutate(opts)
			err := opts.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate: got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateGPIOPinNotLimitedToFirmataRange(t *testing.T) {
	opts := Defaults()
	opts.BoardDriver = DriverPeriph
	opts.BoardPin = 200
	if err := opts.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFirmataConfig(t *testing.T) {
	opts := Defaults()
	opts.BoardPort = "/dev/cu.usbmodem143401"

	cfg := opts.Firmata()
	if cfg.Port != "/dev/cu.usbmodem143401" || cfg.Baud != 57600 || cfg.Pin != 7 || cfg.Settle != 5*time.Second {
		t.Errorf("Firmata: got %+v", cfg)
	}
}
