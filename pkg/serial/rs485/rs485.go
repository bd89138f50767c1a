// Package rs485 implements the serial.Driver contract against a real Linux
// UART in hardware RS-485 mode: the kernel's TIOCSRS485 line discipline
// toggles RTS around each transmission, so Send only has to write and
// drain, never bit-bang RTS itself. Grounded on the teacher's sibling
// example Daedaluz-goserial, whose Port.SetRS485/Port.Drain this wraps.
package rs485

import (
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"

	serial "github.com/bacterium-io/mstpstack/pkg/serial"
)

// turnaroundDelayMs is applied both before and after a send so the remote
// end's receiver has settled before/after our driver toggles the line.
const turnaroundDelayMs = 1

// Driver is a serial.Driver backed by /dev/ttySx or /dev/ttyUSBx in
// kernel-assisted RS-485 mode.
type Driver struct {
	path  string
	baud  int
	port  *goserial.Port
	clock serial.SilenceClock
}

// New constructs a driver for the given device path and baud rate. Call
// Open (or serial.Open("rs485", path, baud)) before use.
func New(path string, baud int) (*Driver, error) {
	if !serial.IsValidBaudRate(baud) {
		return nil, fmt.Errorf("rs485: invalid baud rate %d", baud)
	}
	return &Driver{path: path, baud: baud, clock: serial.NewSilenceClock()}, nil
}

func (d *Driver) Open() error {
	opts := goserial.NewOptions().SetReadTimeout(10 * time.Millisecond)
	port, err := goserial.Open(d.path, opts)
	if err != nil {
		return fmt.Errorf("rs485: open %s: %w", d.path, err)
	}

	if err := port.MakeRaw(); err != nil {
		port.Close()
		return fmt.Errorf("rs485: make raw: %w", err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return fmt.Errorf("rs485: get attrs: %w", err)
	}
	attrs.SetCustomIOSpeed(uint32(d.baud), uint32(d.baud))
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return fmt.Errorf("rs485: set baud: %w", err)
	}

	if err := port.SetRS485(&goserial.RS485{
		Flags:              goserial.RS485Enabled | goserial.RS485RTSOnSend,
		DelayRTSBeforeSend: turnaroundDelayMs,
		DelayRTSAfterSend:  turnaroundDelayMs,
	}); err != nil {
		port.Close()
		return fmt.Errorf("rs485: enable hardware RS-485 mode: %w", err)
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
	n, err := d.port.ReadTimeout(buf, 0)
	if err != nil || n == 0 {
		return 0, false
	}
	d.clock.Reset()
	return buf[0], true
}

func (d *Driver) Send(data []byte) error {
	if _, err := d.port.Write(data); err != nil {
		return fmt.Errorf("rs485: write: %w", err)
	}
	if err := d.port.Drain(); err != nil {
		return fmt.Errorf("rs485: drain: %w", err)
	}
	d.clock.Reset()
	return nil
}

func (d *Driver) SilenceMs() uint32 { return d.clock.ElapsedMs() }

func (d *Driver) ResetSilence() { d.clock.Reset() }

func (d *Driver) BaudRate() int { return d.baud }

func (d *Driver) SetBaudRate(rate int) error {
	if !serial.IsValidBaudRate(rate) {
		return fmt.Errorf("rs485: invalid baud rate %d", rate)
	}
	attrs, err := d.port.GetAttr2()
	if err != nil {
		return err
	}
	attrs.SetCustomIOSpeed(uint32(rate), uint32(rate))
	if err := d.port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		return err
	}
	d.baud = rate
	return nil
}

func init() {
	serial.RegisterDriver("rs485", func(channel string, baud int) (serial.Driver, error) {
		return New(channel, baud)
	})
}
