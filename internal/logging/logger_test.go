package logging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// reset restores package state and redirects stdout to a temp file.
func reset(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "stdout.log"))
	if err != nil {
		t.Fatalf("create temp stdout: %v", err)
	}

	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()

	prevJournal, prevStdout, prevDefault := journalEnabled, stdout, slog.Default()
	journalEnabled = func() bool { return false }
	stdout = func() *os.File { return f }
	t.Cleanup(func() {
		journalEnabled, stdout = prevJournal, prevStdout
		slog.SetDefault(prevDefault)
		f.Close()
	})
	return f
}

func TestModuleLevelOverride(t *testing.T) {
	reset(t)

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"firmata": "debug",
			"web":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"firmata", true, true, true},
		{"web", false, false, true},
		{"solenoid", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled: got %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled: got %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled: got %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitialize(t *testing.T) {
	reset(t)

	early := GetLogger("mqtt")
	if early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default level should be info")
	}

	Initialize(Config{Level: "debug"})

	if !GetLogger("mqtt").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Initialize should update existing module loggers")
	}
}

func TestGetLoggerIsCached(t *testing.T) {
	reset(t)

	if GetLogger("web") != GetLogger("web") {
		t.Error("GetLogger should return the same logger for a module")
	}
}

func TestSetLevel(t *testing.T) {
	reset(t)
	Initialize(Config{Level: "info"})

	if !SetLevel("panel", "debug") {
		t.Fatal("SetLevel(debug) returned false")
	}
	if !GetLogger("panel").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("panel should log debug after SetLevel")
	}
	if SetLevel("panel", "verbose") {
		t.Error("SetLevel should reject unknown levels")
	}
}

func TestJSONFormat(t *testing.T) {
	f := reset(t)
	Initialize(Config{Level: "info", Format: "json"})

	GetLogger("solenoid").Info("droplet created", "held", 500*time.Millisecond)

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec); err != nil {
		t.Fatalf("output is not JSON: %q", data)
	}
	if rec["msg"] != "droplet created" {
		t.Errorf("msg: got %v", rec["msg"])
	}
	if rec["module"] != "solenoid" {
		t.Errorf("module: got %v", rec["module"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", 0, false},
		{"trace", 0, false},
	}
	for _, tt := range tests {
		got := parseLevel(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("parseLevel(%q): got %v, want ok=%v", tt.in, got, tt.ok)
			continue
		}
		if got != nil && *got != tt.want {
			t.Errorf("parseLevel(%q): got %v, want %v", tt.in, *got, tt.want)
		}
		if ValidLevel(tt.in) != tt.ok {
			t.Errorf("ValidLevel(%q): got %v, want %v", tt.in, !tt.ok, tt.ok)
		}
	}
}

func TestJournalHandlerFields(t *testing.T) {
	var gotMsg string
	var gotPri journal.Priority
	var gotFields map[string]string

	h := NewJournalHandler(slog.LevelInfo)
	h.send = func(msg string, pri journal.Priority, vars map[string]string) error {
		gotMsg, gotPri, gotFields = msg, pri, vars
		return nil
	}

	logger := slog.New(h).With("module", "firmata").WithGroup("board")
	logger.Warn("drain stopped", "port", "/dev/ttyACM0", "bytes", 42, "after", 2*time.Second)

	if gotMsg != "drain stopped" {
		t.Errorf("message: got %q", gotMsg)
	}
	if gotPri != journal.PriWarning {
		t.Errorf("priority: got %v, want %v", gotPri, journal.PriWarning)
	}
	want := map[string]string{
		"SYSLOG_IDENTIFIER": "droplet",
		"MODULE":            "firmata",
		"BOARD_PORT":        "/dev/ttyACM0",
		"BOARD_BYTES":       "42",
		"BOARD_AFTER":       "2s",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("field %s: got %q, want %q", k, gotFields[k], v)
		}
	}
}

func TestJournalHandlerLevel(t *testing.T) {
	h := NewJournalHandler(slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestMapLevelToPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := mapLevelToPriority(tt.level); got != tt.want {
			t.Errorf("mapLevelToPriority(%v): got %v, want %v", tt.level, got, tt.want)
		}
	}
}

type recordingHandler struct {
	level   slog.Level
	records []slog.Record
	err     error
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return h.err
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandler(t *testing.T) {
	debug := &recordingHandler{level: slog.LevelDebug}
	warn := &recordingHandler{level: slog.LevelWarn}
	logger := slog.New(NewMultiHandler(debug, warn))

	logger.Debug("d")
	logger.Warn("w")

	if len(debug.records) != 2 {
		t.Errorf("debug handler: got %d records, want 2", len(debug.records))
	}
	if len(warn.records) != 1 {
		t.Errorf("warn handler: got %d records, want 1", len(warn.records))
	}
	if !NewMultiHandler(warn).Enabled(context.Background(), slog.LevelError) {
		t.Error("multi handler should be enabled when any handler is")
	}
}

func TestMultiHandlerKeepsGoingAfterFailure(t *testing.T) {
	sendErr := errors.New("journal socket gone")
	journalSide := &recordingHandler{level: slog.LevelDebug, err: sendErr}
	stdoutSide := &recordingHandler{level: slog.LevelDebug}
	h := NewMultiHandler(nil, journalSide, stdoutSide)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "valve opened", 0)
	err := h.Handle(context.Background(), r)
	if !errors.Is(err, sendErr) {
		t.Errorf("Handle: got %v, want journal error", err)
	}
	if len(stdoutSide.records) != 1 {
		t.Errorf("stdout handler: got %d records, want 1", len(stdoutSide.records))
	}
	if len(h.handlers) != 2 {
		t.Errorf("handlers: got %d, want nil skipped", len(h.handlers))
	}

	derived, ok := h.WithGroup("board").WithAttrs([]slog.Attr{slog.Int("pin", 7)}).(*MultiHandler)
	if !ok || len(derived.handlers) != 2 {
		t.Errorf("derived handler: got %T with %v", derived, derived)
	}
}
