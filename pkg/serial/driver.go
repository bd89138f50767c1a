// Package serial declares the RS-485 driver capability set the MS/TP link
// engine is polymorphic over (SPEC_FULL.md §4.3), plus a by-name registry
// modeled on the teacher's pkg/can.RegisterInterface/NewBus pattern so a
// concrete driver (Linux RS-485, a portable go.bug.st/serial driver, or an
// in-memory mock) can be selected by configuration string.
package serial

import (
	"fmt"
	"time"
)

// ValidBaudRates are the only baud rates MS/TP permits.
var ValidBaudRates = []int{9600, 19200, 38400, 57600, 76800, 115200}

// IsValidBaudRate reports whether rate is one of ValidBaudRates.
func IsValidBaudRate(rate int) bool {
	for _, r := range ValidBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Driver is the abstract contract the MS/TP link engine uses for byte I/O,
// line turnaround and silence timing. Concrete drivers encapsulate whatever
// blocking UART loop or ioctl calls are needed; the FSM above never sees
// platform code.
type Driver interface {
	// Open configures the UART at the current baud rate, 8 data bits, no
	// parity, 1 stop bit, half duplex.
	Open() error

	// Close releases the underlying device.
	Close() error

	// ByteAvailable non-blockingly pops one received byte. Reading a byte
	// resets the silence timer.
	ByteAvailable() (b byte, ok bool)

	// Send drives RTS high, writes data, waits for the shift register to
	// drain, then drives RTS low. It resets the silence timer on return.
	Send(data []byte) error

	// SilenceMs reports milliseconds elapsed since the last RX or TX
	// activity.
	SilenceMs() uint32

	// ResetSilence sets the silence timer to zero.
	ResetSilence()

	// BaudRate returns the currently configured baud rate.
	BaudRate() int

	// SetBaudRate reconfigures the baud rate. Only members of
	// ValidBaudRates are accepted.
	SetBaudRate(rate int) error
}

// NewDriverFunc constructs a Driver bound to a named channel (e.g. a device
// path like "/dev/ttyUSB0") at a given baud rate.
type NewDriverFunc func(channel string, baud int) (Driver, error)

var registry = make(map[string]NewDriverFunc)

// RegisterDriver registers a driver constructor under a name. Concrete
// driver packages call this from an init() func, the same convention the
// teacher's pkg/can backends use.
func RegisterDriver(name string, fn NewDriverFunc) {
	registry[name] = fn
}

// Open constructs a Driver of the named kind ("rs485", "portable", "mock",
// ...) and opens it.
func Open(kind, channel string, baud int) (Driver, error) {
	fn, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("serial: unregistered driver kind %q", kind)
	}
	if !IsValidBaudRate(baud) {
		return nil, fmt.Errorf("serial: invalid baud rate %d", baud)
	}
	d, err := fn(channel, baud)
	if err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// SilenceClock is a small embeddable helper concrete drivers use to track
// SilenceMs/ResetSilence without duplicating a monotonic clock in each
// driver implementation.
type SilenceClock struct {
	last time.Time
}

// NewSilenceClock returns a clock reset to now.
func NewSilenceClock() SilenceClock {
	return SilenceClock{last: time.Now()}
}

// Reset sets the silence timer to zero.
func (s *SilenceClock) Reset() {
	s.last = time.Now()
}

// ElapsedMs reports milliseconds since the last Reset.
func (s *SilenceClock) ElapsedMs() uint32 {
	ms := time.Since(s.last).Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}
