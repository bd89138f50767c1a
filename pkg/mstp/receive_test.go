package mstp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bacterium-io/mstpstack/pkg/frame"
)

func feed(t *testing.T, r *ReceiveFSM, wire []byte, now time.Time) (ReceiveEvent, frame.Frame) {
	t.Helper()
	var lastEvt ReceiveEvent
	var lastFrame frame.Frame
	for _, b := range wire {
		evt, f := r.PushByte(b, now)
		if evt != EventNone {
			lastEvt, lastFrame = evt, f
		}
	}
	return lastEvt, lastFrame
}

func TestReceiveFSMAcceptsEmptyPayloadFrame(t *testing.T) {
	wire, err := frame.Encode(frame.Frame{Type: frame.Token, Dest: 1, Src: 2})
	require.NoError(t, err)

	r := NewReceiveFSM()
	evt, f := feed(t, r, wire, time.Now())
	require.Equal(t, EventReceivedValidFrame, evt)
	assert.Equal(t, frame.Token, f.Type)
	assert.Equal(t, uint8(1), f.Dest)
	assert.Equal(t, uint8(2), f.Src)
	assert.Empty(t, f.Payload)
}

func TestReceiveFSMAcceptsPayloadFrame(t *testing.T) {
	wire, err := frame.Encode(frame.Frame{
		Type: frame.DataExpectingReply, Dest: 10, Src: 20,
		Payload: []byte{1, 2, 3, 4},
	})
	require.NoError(t, err)

	r := NewReceiveFSM()
	evt, f := feed(t, r, wire, time.Now())
	require.Equal(t, EventReceivedValidFrame, evt)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Payload)
}

func TestReceiveFSMDetectsHeaderCorruption(t *testing.T) {
	wire, err := frame.Encode(frame.Frame{Type: frame.Token, Dest: 1, Src: 2})
	require.NoError(t, err)
	wire[3] ^= 0xFF // corrupt dest octet inside the header

	r := NewReceiveFSM()
	evt, _ := feed(t, r, wire, time.Now())
	assert.Equal(t, EventReceivedInvalidFrame, evt)
}

func TestReceiveFSMAbortsOnSilence(t *testing.T) {
	r := NewReceiveFSM()
	start := time.Now()
	r.PushByte(frame.Preamble0, start)
	r.PushByte(frame.Preamble1, start)

	evt := r.CheckAbort(start.Add(TFrameAbort + time.Millisecond))
	assert.Equal(t, EventReceiveError, evt)
	assert.Equal(t, rxIdle, r.state)
}

func TestReceiveFSMIgnoresGarbageBeforePreamble(t *testing.T) {
	wire, err := frame.Encode(frame.Frame{Type: frame.Token, Dest: 1, Src: 2})
	require.NoError(t, err)

	r := NewReceiveFSM()
	noise := append([]byte{0x00, 0x01, 0x02}, wire...)
	evt, f := feed(t, r, noise, time.Now())
	require.Equal(t, EventReceivedValidFrame, evt)
	assert.Equal(t, frame.Token, f.Type)
}
