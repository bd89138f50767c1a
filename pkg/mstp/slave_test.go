package mstp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bacterium-io/mstpstack/pkg/frame"
	"github.com/bacterium-io/mstpstack/pkg/serial/mock"
)

// TestSlaveAnswersQueuedReply covers the common slave path: a
// DataExpectingReply addressed to us moves the slave FSM to SlaveRespond,
// and a reply queued via Submit before the deadline goes out instead of
// ReplyPostponed.
func TestSlaveAnswersQueuedReply(t *testing.T) {
	drv := mock.New(9600)
	require.NoError(t, drv.Open())
	port, err := New(Config{ThisStation: 4, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600, SlaveMode: true}, drv)
	require.NoError(t, err)

	now := time.Now()
	req, err := frame.Encode(frame.Frame{Type: frame.DataExpectingReply, Dest: 4, Src: 1, Payload: []byte{7}})
	require.NoError(t, err)
	drv.InjectBytes(req)

	require.NoError(t, port.Poll(now))
	assert.Equal(t, SlaveRespond, port.slaveState)

	port.Submit(OutgoingFrame{Type: frame.DataNotExpectingReply, Dest: 1, Payload: []byte{9}})

	now = now.Add(time.Millisecond)
	require.NoError(t, port.Poll(now))
	assert.Equal(t, SlaveIdle, port.slaveState)

	sent := drv.Sent()
	require.Len(t, sent, 1)
	got, err := frame.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, frame.DataNotExpectingReply, got.Type)
	assert.Equal(t, uint8(1), got.Dest)
	assert.Equal(t, []byte{9}, got.Payload)
}

// TestSlaveSendsReplyPostponedPastDeadline covers the case where the
// application above never queues a reply: once TReplyDelay elapses the
// slave must send ReplyPostponed rather than leaving the requester hanging.
func TestSlaveSendsReplyPostponedPastDeadline(t *testing.T) {
	drv := mock.New(9600)
	require.NoError(t, drv.Open())
	port, err := New(Config{ThisStation: 4, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600, SlaveMode: true}, drv)
	require.NoError(t, err)

	now := time.Now()
	req, err := frame.Encode(frame.Frame{Type: frame.DataExpectingReply, Dest: 4, Src: 1, Payload: []byte{7}})
	require.NoError(t, err)
	drv.InjectBytes(req)

	require.NoError(t, port.Poll(now))
	assert.Equal(t, SlaveRespond, port.slaveState)

	now = now.Add(TReplyDelay + time.Millisecond)
	require.NoError(t, port.Poll(now))
	assert.Equal(t, SlaveIdle, port.slaveState)

	sent := drv.Sent()
	require.Len(t, sent, 1)
	got, err := frame.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, frame.ReplyPostponed, got.Type)
	assert.Equal(t, uint8(1), got.Dest)
}

// TestSlaveIgnoresPollForMaster confirms a slave never answers a
// PollForMaster addressed to it (it is not master-capable).
func TestSlaveIgnoresPollForMaster(t *testing.T) {
	drv := mock.New(9600)
	require.NoError(t, drv.Open())
	port, err := New(Config{ThisStation: 4, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600, SlaveMode: true}, drv)
	require.NoError(t, err)

	now := time.Now()
	wire, err := frame.Encode(frame.Frame{Type: frame.PollForMaster, Dest: 4, Src: 1})
	require.NoError(t, err)
	drv.InjectBytes(wire)

	require.NoError(t, port.Poll(now))
	assert.Empty(t, drv.Sent())
	assert.Equal(t, SlaveIdle, port.slaveState)
}
