package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/droplet/internal/events"
	"github.com/sweeney/droplet/internal/firmata"
	"github.com/sweeney/droplet/internal/gpio"
	"github.com/sweeney/droplet/internal/metrics"
	"github.com/sweeney/droplet/internal/mqtt"
	"github.com/sweeney/droplet/internal/panel"
	"github.com/sweeney/droplet/internal/solenoid"
	"github.com/sweeney/droplet/internal/status"
	"github.com/sweeney/droplet/internal/web"
)

// stack is the daemon wired the way cmd/droplet wires it, with a fake pin
// and a fake publisher.
type stack struct {
	pin       *gpio.FakeWriter
	ctrl      *solenoid.Controller
	panel     *panel.Panel
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	publisher *mqtt.FakePublisher
	ts        *httptest.Server
}

func newStack(t *testing.T, pin gpio.Writer) *stack {
	t.Helper()
	s := &stack{
		tracker:   status.NewTracker(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), status.Config{PulseMs: 20, HTTPAddr: ":0"}),
		metrics:   metrics.New(),
		publisher: mqtt.NewFakePublisher(),
	}
	if fw, ok := pin.(*gpio.FakeWriter); ok {
		s.pin = fw
	}

	bus := events.New()
	t.Cleanup(func() { bus.Close() })
	bus.OnValve(func(e events.ValveEvent) { s.publisher.Publish(e) })

	ctrl, err := solenoid.New(pin,
		solenoid.WithPulseDuration(20*time.Millisecond),
		solenoid.WithObserver(s.tracker.Observe),
		solenoid.WithObserver(s.metrics.Observe),
		solenoid.WithObserver(func(e solenoid.Event) { bus.Publish(events.FromSolenoid(e)) }),
	)
	if err != nil {
		t.Fatalf("solenoid.New: %v", err)
	}
	s.ctrl = ctrl
	s.panel = panel.New(ctrl, panel.WithOnChange(s.tracker.SetPanel))

	srv := web.New(":0", s.tracker, s.panel, web.WithMetrics(s.metrics.Handler()))
	s.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(s.ts.Close)
	return s
}

func (s *stack) post(t *testing.T, path, body string) (int, web.ActionJSON) {
	t.Helper()
	resp, err := http.Post(s.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var a web.ActionJSON
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, a
}

func (s *stack) status(t *testing.T) status.StatusInner {
	t.Helper()
	resp, err := http.Get(s.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return sj.Status
}

func (s *stack) metricsBody(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(s.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read /metrics: %v", err)
	}
	return string(body)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestIntegrationPrimeThenDroplet drives the panel over HTTP through a full
// priming cycle followed by one droplet.
func TestIntegrationPrimeThenDroplet(t *testing.T) {
	s := newStack(t, gpio.NewFakeWriter())

	if got := s.status(t); got.Panel.Status != "Waiting" || got.Valve != "CLOSED" {
		t.Fatalf("initial: got %s/%s, want Waiting/CLOSED", got.Panel.Status, got.Valve)
	}

	code, a := s.post(t, "/api/priming", `{"on":true}`)
	if code != http.StatusOK || a.Panel.Status != panel.StatusPriming {
		t.Fatalf("priming on: got %d %+v", code, a)
	}
	if a.Panel.DropletEnabled {
		t.Error("droplet should be disabled while priming")
	}

	// Droplet is refused while priming and the pin is untouched.
	code, _ = s.post(t, "/api/droplet", `{}`)
	if code != http.StatusConflict {
		t.Errorf("droplet while priming: got %d, want 409", code)
	}

	code, a = s.post(t, "/api/priming", `{"on":false}`)
	if code != http.StatusOK || a.Panel.Status != panel.StatusWaiting {
		t.Fatalf("priming off: got %d %+v", code, a)
	}

	code, a = s.post(t, "/api/droplet", `{}`)
	if code != http.StatusOK || a.Panel.Status != panel.StatusWaiting {
		t.Fatalf("droplet: got %d %+v", code, a)
	}

	want := []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low}
	got := s.pin.Levels()
	if len(got) != len(want) {
		t.Fatalf("levels: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level %d: got %v, want %v", i, got[i], want[i])
		}
	}

	st := s.status(t)
	if st.Valve != "CLOSED" {
		t.Errorf("valve: got %s, want CLOSED", st.Valve)
	}
	if st.Counts.Opens != 2 || st.Counts.Closes != 2 || st.Counts.Pulses != 1 {
		t.Errorf("counts: got %+v", st.Counts)
	}

	// open, close, open, close, pulse
	waitFor(t, "mqtt events", func() bool { return s.publisher.EventCount() == 5 })
}

func TestIntegrationDropletTiming(t *testing.T) {
	s := newStack(t, gpio.NewFakeWriter())

	start := time.Now()
	if _, err := s.panel.Droplet(); err != nil {
		t.Fatalf("Droplet: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("droplet returned after %v, want at least 20ms", elapsed)
	}

	writes := s.pin.Writes
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(writes))
	}
	if gap := writes[1].At.Sub(writes[0].At); gap < 20*time.Millisecond {
		t.Errorf("HIGH held for %v, want at least 20ms", gap)
	}
}

func TestIntegrationWriteFailure(t *testing.T) {
	pin := gpio.NewFakeWriter()
	s := newStack(t, pin)
	pin.WriteError = errors.New("serial: device unplugged")

	code, a := s.post(t, "/api/priming", `{"on":true}`)
	if code != http.StatusBadGateway {
		t.Errorf("status code: got %d, want 502", code)
	}
	if a.Error == "" {
		t.Error("expected error message in response")
	}
	if a.Panel.Priming {
		t.Error("panel should not show priming when the open failed")
	}

	st := s.status(t)
	if st.Valve != "CLOSED" {
		t.Errorf("valve: got %s, want CLOSED", st.Valve)
	}
	if st.Counts.WriteErrors != 1 {
		t.Errorf("write errors: got %d, want 1", st.Counts.WriteErrors)
	}
	if st.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	waitFor(t, "error event", func() bool { return s.publisher.EventCount() == 1 })
	ev := s.publisher.Events[0]
	if ev.Error == "" || ev.State != "CLOSED" {
		t.Errorf("event: got %+v", ev)
	}
}

func TestIntegrationMetricsEndpoint(t *testing.T) {
	s := newStack(t, gpio.NewFakeWriter())
	if _, err := s.panel.Droplet(); err != nil {
		t.Fatalf("Droplet: %v", err)
	}

	body := s.metricsBody(t)
	for _, want := range []string{
		`droplet_pin_writes_total{level="high"} 1`,
		`droplet_pin_writes_total{level="low"} 1`,
		"droplet_valve_pulses_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestIntegrationReleaseAfterPriming(t *testing.T) {
	s := newStack(t, gpio.NewFakeWriter())
	if _, err := s.panel.SetPriming(true); err != nil {
		t.Fatalf("SetPriming: %v", err)
	}

	if err := s.ctrl.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if last, _ := s.pin.Last(); last != gpio.Low {
		t.Errorf("last level: got %v, want LOW", last)
	}
	if !s.pin.IsClosed() {
		t.Error("expected pin to be closed")
	}

	if got := s.tracker.Snapshot().Valve; got != solenoid.StateClosed {
		t.Errorf("tracker valve: got %s, want CLOSED", got)
	}
	if st := s.status(t); st.Counts.Closes != 1 {
		t.Errorf("closes: got %d, want 1", st.Counts.Closes)
	}
	if body := s.metricsBody(t); !strings.Contains(body, "droplet_valve_open 0") {
		t.Error("expected valve-open gauge to drop to 0 after release")
	}
	waitFor(t, "release event", func() bool { return s.publisher.EventCount() == 2 })

	// The panel still shows priming, so the droplet is refused before the
	// released controller is reached.
	code, _ := s.post(t, "/api/droplet", `{}`)
	if code != http.StatusConflict {
		t.Errorf("droplet after release: got %d, want 409", code)
	}
}

func TestIntegrationWritesAfterRelease(t *testing.T) {
	s := newStack(t, gpio.NewFakeWriter())
	if err := s.ctrl.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	code, a := s.post(t, "/api/droplet", `{}`)
	if code != http.StatusServiceUnavailable {
		t.Errorf("droplet after release: got %d, want 503", code)
	}
	if a.Error == "" {
		t.Error("expected error message in response")
	}
}

// wireDevice is the board end of a net.Pipe. It answers nothing and records
// what the host sends.
type wireDevice struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (d *wireDevice) run(conn net.Conn) {
	b := make([]byte, 64)
	for {
		n, err := conn.Read(b)
		d.mu.Lock()
		d.buf.Write(b[:n])
		d.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (d *wireDevice) bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.buf.Bytes()...)
}

// TestIntegrationFirmataWire checks the bytes a droplet puts on the serial
// line for pin 7.
func TestIntegrationFirmataWire(t *testing.T) {
	host, dev := net.Pipe()
	d := &wireDevice{}
	go d.run(dev)
	t.Cleanup(func() { dev.Close() })

	board, err := firmata.NewBoard(host, firmata.Config{Port: "pipe", Pin: gpio.DefaultPin})
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	s := newStack(t, board)

	handshake := []byte{0xF9, 0xF0, 0x79, 0xF7, 0xF4, 0x07, 0x01}
	drop := []byte{0x90, 0x00, 0x01, 0x90, 0x00, 0x00}

	code, _ := s.post(t, "/api/droplet", `{}`)
	if code != http.StatusOK {
		t.Fatalf("droplet: got %d", code)
	}
	waitFor(t, "droplet bytes", func() bool { return len(d.bytes()) >= len(handshake)+len(drop) })

	got := d.bytes()
	if !bytes.Equal(got[:len(handshake)], handshake) {
		t.Errorf("handshake: got % x, want % x", got[:len(handshake)], handshake)
	}
	if !bytes.Equal(got[len(handshake):len(handshake)+len(drop)], drop) {
		t.Errorf("droplet: got % x, want % x", got[len(handshake):], drop)
	}

	if err := s.ctrl.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}
