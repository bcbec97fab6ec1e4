// Package firmata talks to a microcontroller running StandardFirmata over a
// serial port. It implements the small part of the protocol needed to drive
// digital outputs and decodes everything the board sends back so the serial
// buffer is always drained.
package firmata

import "fmt"

// Command bytes.
const (
	DigitalMessage     byte = 0x90 // 0x90-0x9F, low nibble is the port
	AnalogMessage      byte = 0xE0 // 0xE0-0xEF, low nibble is the analog pin
	ReportAnalog       byte = 0xC0
	ReportDigital      byte = 0xD0
	SetPinModeCmd      byte = 0xF4
	SetDigitalPinValue byte = 0xF5
	ReportVersion      byte = 0xF9
	SystemReset        byte = 0xFF
	StartSysex         byte = 0xF0
	EndSysex           byte = 0xF7

	ReportFirmware byte = 0x79 // sysex command
)

// PinMode is a Firmata pin mode.
type PinMode byte

const (
	ModeInput  PinMode = 0x00
	ModeOutput PinMode = 0x01
	ModeAnalog PinMode = 0x02
	ModePWM    PinMode = 0x03
	ModeServo  PinMode = 0x04
)

func (m PinMode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	case ModeAnalog:
		return "analog"
	case ModePWM:
		return "pwm"
	case ModeServo:
		return "servo"
	default:
		return fmt.Sprintf("mode(0x%02x)", byte(m))
	}
}

// maxSysex bounds the sysex buffer so a lost END_SYSEX cannot grow it forever.
const maxSysex = 1024

// EncodeSetPinMode returns the message configuring pin to mode.
func EncodeSetPinMode(pin int, mode PinMode) []byte {
	return []byte{SetPinModeCmd, byte(pin) & 0x7F, byte(mode)}
}

// EncodeDigitalPort returns the message setting all output pins of port to
// the bits in mask. This is the form StandardFirmata has accepted since 2.0.
func EncodeDigitalPort(port int, mask byte) []byte {
	return []byte{DigitalMessage | byte(port&0x0F), mask & 0x7F, mask >> 7}
}

// EncodeReportVersion returns the protocol version query.
func EncodeReportVersion() []byte {
	return []byte{ReportVersion}
}

// EncodeQueryFirmware returns the firmware name and version query.
func EncodeQueryFirmware() []byte {
	return []byte{StartSysex, ReportFirmware, EndSysex}
}

// MaxPin is the highest pin addressable by digital port messages.
const MaxPin = 16*8 - 1

// PortOf returns the digital port and bit for a pin.
func PortOf(pin int) (port int, bit byte) {
	return pin / 8, 1 << uint(pin%8)
}

// Message is a decoded message from the board.
type Message struct {
	// Command is the command byte with the channel nibble stripped for
	// channel messages (digital and analog).
	Command byte
	// Channel is the port or analog pin of a channel message.
	Channel byte
	// Sysex is the sysex command when Command is StartSysex.
	Sysex byte
	// Data holds the 7-bit data bytes (sysex payload without the command).
	Data []byte
}

// Value combines the first two data bytes as a 14-bit value.
func (m Message) Value() int {
	if len(m.Data) < 2 {
		return 0
	}
	return int(m.Data[0]) | int(m.Data[1])<<7
}

// Firmware decodes a REPORT_FIRMWARE sysex payload as "name major.minor".
func (m Message) Firmware() (string, bool) {
	if m.Command != StartSysex || m.Sysex != ReportFirmware || len(m.Data) < 2 {
		return "", false
	}
	major, minor := m.Data[0], m.Data[1]
	name := decodeTwoByteString(m.Data[2:])
	if name == "" {
		return fmt.Sprintf("%d.%d", major, minor), true
	}
	return fmt.Sprintf("%s %d.%d", name, major, minor), true
}

func (m Message) String() string {
	switch m.Command {
	case DigitalMessage:
		return fmt.Sprintf("digital port(%d) value(0x%02x)", m.Channel, m.Value())
	case AnalogMessage:
		return fmt.Sprintf("analog pin(%d) value(%d)", m.Channel, m.Value())
	case ReportVersion:
		return fmt.Sprintf("version %d.%d", m.Data[0], m.Data[1])
	case StartSysex:
		return fmt.Sprintf("sysex(0x%02x) len(%d)", m.Sysex, len(m.Data))
	default:
		return fmt.Sprintf("cmd(0x%02x) data(%v)", m.Command, m.Data)
	}
}

// decodeTwoByteString joins 7-bit LSB/MSB pairs into a string.
func decodeTwoByteString(data []byte) string {
	out := make([]byte, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		out = append(out, data[i]|data[i+1]<<7)
	}
	return string(out)
}

// dataLen returns how many data bytes follow cmd, or -1 for commands the
// decoder does not know.
func dataLen(cmd byte) int {
	switch cmd {
	case DigitalMessage, AnalogMessage, ReportVersion, SetPinModeCmd, SetDigitalPinValue:
		return 2
	case ReportAnalog, ReportDigital:
		return 1
	case SystemReset:
		return 0
	default:
		return -1
	}
}

// Decoder reassembles messages from a byte stream. The zero value is ready
// to use. Not safe for concurrent use.
type Decoder struct {
	inSysex bool
	sysex   []byte

	pending bool
	cmd     byte
	channel byte
	need    int
	data    []byte
}

// Feed consumes one byte and returns a message when one is complete.
func (d *Decoder) Feed(b byte) (Message, bool) {
	if b&0x80 != 0 {
		return d.command(b)
	}

	switch {
	case d.inSysex:
		if len(d.sysex) < maxSysex {
			d.sysex = append(d.sysex, b)
		}
	case d.pending:
		d.data = append(d.data, b)
		if len(d.data) == d.need {
			return d.emit(), true
		}
	}
	// stray data bytes are dropped
	return Message{}, false
}

func (d *Decoder) command(b byte) (Message, bool) {
	if d.inSysex {
		if b != EndSysex {
			// a command byte inside sysex means we lost END_SYSEX; start over
			d.inSysex = false
			d.sysex = d.sysex[:0]
			return d.command(b)
		}
		d.inSysex = false
		if len(d.sysex) == 0 {
			return Message{}, false
		}
		msg := Message{
			Command: StartSysex,
			Sysex:   d.sysex[0],
			Data:    append([]byte(nil), d.sysex[1:]...),
		}
		d.sysex = d.sysex[:0]
		return msg, true
	}

	d.pending = false
	d.data = d.data[:0]

	if b == StartSysex {
		d.inSysex = true
		d.sysex = d.sysex[:0]
		return Message{}, false
	}

	cmd, channel := b, byte(0)
	if b < 0xF0 {
		cmd, channel = b&0xF0, b&0x0F
	}

	n := dataLen(cmd)
	switch {
	case n < 0:
		return Message{}, false
	case n == 0:
		return Message{Command: cmd, Channel: channel}, true
	}

	d.pending = true
	d.cmd = cmd
	d.channel = channel
	d.need = n
	return Message{}, false
}

func (d *Decoder) emit() Message {
	msg := Message{
		Command: d.cmd,
		Channel: d.channel,
		Data:    append([]byte(nil), d.data...),
	}
	d.pending = false
	d.data = d.data[:0]
	return msg
}
