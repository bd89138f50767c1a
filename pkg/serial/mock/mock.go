// Package mock provides an in-memory loopback Driver pair for deterministic
// tests of the MS/TP link engine, the same role the teacher's
// pkg/can/virtual bus plays for CANopen node tests: no hardware, no
// goroutine races, fully inspectable from the test.
package mock

import (
	"errors"
	"sync"

	serial "github.com/bacterium-io/mstpstack/pkg/serial"
)

var errInvalidBaud = errors.New("mock: invalid baud rate")

// Driver is an in-memory serial.Driver. Bytes written with Send on one
// Driver become readable via ByteAvailable on its Peer (if any), making a
// pair of linked Drivers behave like two ends of an RS-485 segment.
type Driver struct {
	mu    sync.Mutex
	rx    []byte
	baud  int
	clock serial.SilenceClock
	peer  *Driver
	sent  [][]byte // history of everything sent, for assertions
	open  bool
}

// New returns an unconnected mock driver at the given baud rate. Link two
// drivers into a loopback pair with Connect.
func New(baud int) *Driver {
	return &Driver{baud: baud, clock: serial.NewSilenceClock()}
}

// Connect links a and b so that each one's Send feeds the other's receive
// buffer.
func Connect(a, b *Driver) {
	a.peer = b
	b.peer = a
}

func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.clock.Reset()
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *Driver) ByteAvailable() (byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return 0, false
	}
	b := d.rx[0]
	d.rx = d.rx[1:]
	d.clock.Reset()
	return b, true
}

func (d *Driver) Send(data []byte) error {
	d.mu.Lock()
	d.sent = append(d.sent, append([]byte{}, data...))
	peer := d.peer
	d.clock.Reset()
	d.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.rx = append(peer.rx, data...)
		peer.mu.Unlock()
	}
	return nil
}

func (d *Driver) SilenceMs() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.ElapsedMs()
}

func (d *Driver) ResetSilence() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock.Reset()
}

func (d *Driver) BaudRate() int { return d.baud }

func (d *Driver) SetBaudRate(rate int) error {
	if !serial.IsValidBaudRate(rate) {
		return errInvalidBaud
	}
	d.mu.Lock()
	d.baud = rate
	d.mu.Unlock()
	return nil
}

// Sent returns a copy of everything handed to Send, for test assertions.
func (d *Driver) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// InjectBytes appends bytes directly to the receive buffer, bypassing any
// peer, to simulate bus traffic from other (unmodeled) stations.
func (d *Driver) InjectBytes(b []byte) {
	d.mu.Lock()
	d.rx = append(d.rx, b...)
	d.mu.Unlock()
}

func init() {
	serial.RegisterDriver("mock", func(channel string, baud int) (serial.Driver, error) {
		return New(baud), nil
	})
}
