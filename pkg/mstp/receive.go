package mstp

import (
	"time"

	"github.com/bacterium-io/mstpstack/internal/crc"
	"github.com/bacterium-io/mstpstack/pkg/frame"
)

// ReceiveEvent reports what PushByte/CheckAbort produced on the most
// recent call. Only EventReceivedValidFrame and EventReceivedInvalidFrame
// carry a terminal frame; EventNone means "keep feeding bytes".
type ReceiveEvent int

const (
	EventNone ReceiveEvent = iota
	EventReceivedValidFrame
	EventReceivedInvalidFrame
	EventReceiveError
)

type rxState int

const (
	rxIdle rxState = iota
	rxPreamble
	rxHeader
	rxData
)

// ReceiveFSM is the byte-level MS/TP receiver (§4.4 Receive FSM): it
// accumulates octets from the driver and emits a complete Frame once a
// header and (if present) payload have arrived and their CRCs check out.
// It carries no reference to a driver or a Port; the link engine feeds it
// bytes and timeout ticks.
type ReceiveFSM struct {
	state        rxState
	header       [frame.HeaderLen]byte
	headerIdx    int
	hcrc         crc.HeaderCRC8
	dataLen      int
	dcrc         crc.DataCRC16
	payload      []byte
	payloadIdx   int
	pendingCrcLo byte
	lastByte     time.Time
}

// NewReceiveFSM returns a receiver parked in Idle.
func NewReceiveFSM() *ReceiveFSM {
	return &ReceiveFSM{state: rxIdle}
}

// Reset aborts whatever frame is in progress and returns to Idle. Called
// on CRC failure, silence timeout, or an unexpected preamble byte.
func (r *ReceiveFSM) Reset() {
	r.state = rxIdle
	r.headerIdx = 0
	r.payloadIdx = 0
	r.payload = nil
}

// PushByte feeds one received octet into the FSM. now restarts the
// inter-byte silence clock that CheckAbort compares against.
func (r *ReceiveFSM) PushByte(b byte, now time.Time) (ReceiveEvent, frame.Frame) {
	r.lastByte = now

	switch r.state {
	case rxIdle:
		if b == frame.Preamble0 {
			r.state = rxPreamble
		}
		return EventNone, frame.Frame{}

	case rxPreamble:
		switch b {
		case frame.Preamble1:
			r.state = rxHeader
			r.headerIdx = 0
			r.hcrc = crc.NewHeaderCRC8()
		case frame.Preamble0:
			// stay in rxPreamble; a repeated 0x55 is tolerated
		default:
			r.state = rxIdle
		}
		return EventNone, frame.Frame{}

	case rxHeader:
		if r.headerIdx < frame.HeaderLen {
			r.header[r.headerIdx] = b
			r.hcrc = r.hcrc.Update(b)
			r.headerIdx++
			return EventNone, frame.Frame{}
		}
		// b is the received header CRC octet.
		if !r.hcrc.Valid(b) {
			r.Reset()
			return EventReceivedInvalidFrame, frame.Frame{}
		}
		r.dataLen = int(r.header[3])<<8 | int(r.header[4])
		if r.dataLen == 0 {
			f := r.finishedFrame(nil)
			r.Reset()
			return EventReceivedValidFrame, f
		}
		r.state = rxData
		r.dcrc = crc.NewDataCRC16()
		r.payload = make([]byte, 0, r.dataLen)
		r.payloadIdx = 0
		return EventNone, frame.Frame{}

	case rxData:
		if r.payloadIdx < r.dataLen {
			r.payload = append(r.payload, b)
			r.dcrc = r.dcrc.Update(b)
			r.payloadIdx++
			return EventNone, frame.Frame{}
		}
		r.payloadIdx++
		if r.payloadIdx == r.dataLen+1 {
			r.pendingCrcLo = b
			return EventNone, frame.Frame{}
		}
		if !r.dcrc.Valid(r.pendingCrcLo, b) {
			r.Reset()
			return EventReceivedInvalidFrame, frame.Frame{}
		}
		f := r.finishedFrame(r.payload)
		r.Reset()
		return EventReceivedValidFrame, f
	}

	return EventNone, frame.Frame{}
}

// CheckAbort aborts a frame in progress if more than TFrameAbort has
// elapsed since the last received byte. Call once per poll tick.
func (r *ReceiveFSM) CheckAbort(now time.Time) ReceiveEvent {
	if r.state == rxIdle {
		return EventNone
	}
	if now.Sub(r.lastByte) > TFrameAbort {
		r.Reset()
		return EventReceiveError
	}
	return EventNone
}

func (r *ReceiveFSM) finishedFrame(payload []byte) frame.Frame {
	var p []byte
	if len(payload) > 0 {
		p = append([]byte{}, payload...)
	}
	return frame.Frame{
		Type:    frame.Type(r.header[0]),
		Dest:    r.header[1],
		Src:     r.header[2],
		Payload: p,
	}
}
