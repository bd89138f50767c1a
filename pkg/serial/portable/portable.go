// Package portable implements the serial.Driver contract on top of
// go.bug.st/serial, the cross-platform serial library declared (but not
// directly exercised) by the teacher's sibling example
// librescoot-bluetooth-service. Unlike rs485, which relies on a Linux
// kernel RS-485 line discipline, this driver has no hardware-assisted
// turnaround: it is meant for USB-RS485 adapters and test rigs on
// non-Linux hosts where TIOCSRS485 is unavailable, and leaves line
// turnaround timing to the MS/TP FSM's own silence-based arbitration.
package portable

import (
	"fmt"
	"time"

	goserial "go.bug.st/serial"

	serial "github.com/bacterium-io/mstpstack/pkg/serial"
)

// pollTimeout bounds how long a single ByteAvailable read blocks, keeping
// the link engine's poll loop responsive.
const pollTimeout = 10 * time.Millisecond

// Driver is a serial.Driver backed by go.bug.st/serial.
type Driver struct {
	path  string
	baud  int
	port  goserial.Port
	clock serial.SilenceClock
}

// New constructs a driver for the given port name (e.g. "COM3" or
// "/dev/ttyUSB0") at a given baud rate.
func New(path string, baud int) (*Driver, error) {
	if !serial.IsValidBaudRate(baud) {
		return nil, fmt.Errorf("portable: invalid baud rate %d", baud)
	}
	return &Driver{path: path, baud: baud, clock: serial.NewSilenceClock()}, nil
}

func (d *Driver) mode() *goserial.Mode {
	return &goserial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
}

func (d *Driver) Open() error {
	port, err := goserial.Open(d.path, d.mode())
	if err != nil {
		return fmt.Errorf("portable: open %s: %w", d.path, err)
	}
	if err := port.SetReadTimeout(pollTimeout); err != nil {
		port.Close()
		return fmt.Errorf("portable: set read timeout: %w", err)
	}
	d.port = port
	d.clock.Reset()
	return nil
}

func (d *Driver) Close() error {
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

func (d *Driver) ByteAvailable() (byte, bool) {
	buf := make([]byte, 1)
	n, err := d.port.Read(buf)
	if err != nil || n == 0 {
		return 0, false
	}
	d.clock.Reset()
	return buf[0], true
}

func (d *Driver) Send(data []byte) error {
	// RTS toggling around the write gives a USB-RS485 adapter's
	// auto-direction circuitry (where present) a hint; adapters that
	// ignore RTS are unaffected.
	_ = d.port.SetRTS(true)
	n, err := d.port.Write(data)
	_ = d.port.SetRTS(false)
	if err != nil {
		return fmt.Errorf("portable: write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("portable: short write: wrote %d of %d bytes", n, len(data))
	}
	d.clock.Reset()
	return nil
}

func (d *Driver) SilenceMs() uint32 { return d.clock.ElapsedMs() }

func (d *Driver) ResetSilence() { d.clock.Reset() }

func (d *Driver) BaudRate() int { return d.baud }

func (d *Driver) SetBaudRate(rate int) error {
	if !serial.IsValidBaudRate(rate) {
		return fmt.Errorf("portable: invalid baud rate %d", rate)
	}
	d.baud = rate
	if d.port != nil {
		if err := d.port.SetMode(d.mode()); err != nil {
			return fmt.Errorf("portable: set mode: %w", err)
		}
	}
	return nil
}

func init() {
	serial.RegisterDriver("portable", func(channel string, baud int) (serial.Driver, error) {
		return New(channel, baud)
	})
}
