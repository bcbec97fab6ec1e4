package firmata

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/droplet/internal/gpio"
)

// Defaults matching StandardFirmata on an Arduino Uno.
const (
	DefaultBaud   = 57600
	DefaultSettle = 5 * time.Second

	// readTimeout bounds each serial read so the drain loop notices Close.
	readTimeout = 100 * time.Millisecond
)

// Config describes the board connection.
type Config struct {
	Port   string
	Baud   int
	Settle time.Duration // wait after opening for the board's auto-reset
	Pin    int
	Logger *slog.Logger
}

// Stats describes traffic received from the board.
type Stats struct {
	BytesDrained uint64
	Messages     uint64
	Protocol     string
	Firmware     string
}

// Board is a Firmata board with one digital output pin. It implements
// gpio.Writer for that pin.
type Board struct {
	port   io.ReadWriteCloser
	name   string
	pin    int
	logger *slog.Logger

	// wmu serialises writes to the port and guards masks.
	wmu    sync.Mutex
	masks  [16]byte
	closed bool

	smu   sync.Mutex
	stats Stats

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ gpio.Writer = (*Board)(nil)

// ErrInvalidPin is returned for pins outside 0..MaxPin.
var ErrInvalidPin = errors.New("firmata: invalid pin")

// openPort opens a serial port. Replaced in tests.
var openPort = func(name string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

// Open opens the serial port named in cfg and prepares the output pin.
// Failures are reported as *gpio.ConnectionError.
func Open(cfg Config) (*Board, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Port == "" {
		port, err := DetectPort()
		if err != nil {
			return nil, &gpio.ConnectionError{Driver: "firmata", Port: "auto", Err: err}
		}
		cfg.Port = port
	}

	rwc, err := openPort(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, &gpio.ConnectionError{Driver: "firmata", Port: cfg.Port, Err: err}
	}

	b, err := NewBoard(rwc, cfg)
	if err != nil {
		return nil, &gpio.ConnectionError{Driver: "firmata", Port: cfg.Port, Err: err}
	}
	return b, nil
}

// NewBoard starts talking Firmata over an already open connection: it starts
// the drain goroutine, waits cfg.Settle, queries versions and sets the pin to
// output. The board owns rwc from here on.
func NewBoard(rwc io.ReadWriteCloser, cfg Config) (*Board, error) {
	if cfg.Pin < 0 || cfg.Pin > MaxPin {
		rwc.Close()
		return nil, fmt.Errorf("%w: %d", ErrInvalidPin, cfg.Pin)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Board{
		port:   rwc,
		name:   cfg.Port,
		pin:    cfg.Pin,
		logger: logger.With("port", cfg.Port),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go b.drain()

	if cfg.Settle > 0 {
		b.logger.Debug("waiting for board reset", "settle", cfg.Settle)
		time.Sleep(cfg.Settle)
	}

	if err := b.send(EncodeReportVersion()); err != nil {
		b.Close()
		return nil, fmt.Errorf("query version: %w", err)
	}
	if err := b.send(EncodeQueryFirmware()); err != nil {
		b.Close()
		return nil, fmt.Errorf("query firmware: %w", err)
	}
	if err := b.SetPinMode(cfg.Pin, ModeOutput); err != nil {
		b.Close()
		return nil, err
	}

	b.logger.Info("board ready", "pin", cfg.Pin)
	return b, nil
}

// SetPinMode configures a pin.
func (b *Board) SetPinMode(pin int, mode PinMode) error {
	if err := b.send(EncodeSetPinMode(pin, mode)); err != nil {
		return fmt.Errorf("set pin %d mode %s: %w", pin, mode, err)
	}
	return nil
}

// DigitalWrite sets one output pin, keeping the other pins of its port.
func (b *Board) DigitalWrite(pin int, level gpio.Level) error {
	if pin < 0 || pin > MaxPin {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	port, bit := PortOf(pin)

	b.wmu.Lock()
	defer b.wmu.Unlock()

	if b.closed {
		return gpio.ErrClosed
	}

	mask := b.masks[port]
	if level == gpio.High {
		mask |= bit
	} else {
		mask &^= bit
	}
	if _, err := b.port.Write(EncodeDigitalPort(port, mask)); err != nil {
		return err
	}
	b.masks[port] = mask
	return nil
}

// Write drives the board's configured pin.
func (b *Board) Write(level gpio.Level) error {
	return b.DigitalWrite(b.pin, level)
}

// Stats returns a copy of the drain statistics.
func (b *Board) Stats() Stats {
	b.smu.Lock()
	defer b.smu.Unlock()
	return b.stats
}

// Name returns the serial port the board is attached to.
func (b *Board) Name() string {
	return b.name
}

// Close drives the pin low, stops the drain goroutine and closes the port.
// It waits for the drain goroutine to exit.
func (b *Board) Close() error {
	b.closeOnce.Do(func() {
		if err := b.Write(gpio.Low); err != nil && !errors.Is(err, gpio.ErrClosed) {
			b.logger.Warn("failed to drive pin low on close", "error", err)
		}

		b.wmu.Lock()
		b.closed = true
		b.wmu.Unlock()

		close(b.stop)
		b.closeErr = b.port.Close()
		<-b.done
		b.logger.Info("board closed")
	})
	return b.closeErr
}

func (b *Board) send(msg []byte) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	if b.closed {
		return gpio.ErrClosed
	}
	_, err := b.port.Write(msg)
	return err
}

// drain reads and decodes everything the board sends until Close.
func (b *Board) drain() {
	defer close(b.done)

	var dec Decoder
	buf := make([]byte, 256)

	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			b.smu.Lock()
			b.stats.BytesDrained += uint64(n)
			b.smu.Unlock()

			for _, c := range buf[:n] {
				if msg, ok := dec.Feed(c); ok {
					b.handle(msg)
				}
			}
		}

		select {
		case <-b.stop:
			return
		default:
		}

		if err != nil {
			b.logger.Error("serial read failed, drain stopped", "error", err)
			return
		}
	}
}

func (b *Board) handle(msg Message) {
	b.smu.Lock()
	b.stats.Messages++
	switch {
	case msg.Command == ReportVersion:
		b.stats.Protocol = fmt.Sprintf("%d.%d", msg.Data[0], msg.Data[1])
	case msg.Command == StartSysex && msg.Sysex == ReportFirmware:
		if fw, ok := msg.Firmware(); ok {
			b.stats.Firmware = fw
		}
	}
	b.smu.Unlock()

	b.logger.Debug("board message", "message", msg.String())
}
