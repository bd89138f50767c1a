package mstp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bacterium-io/mstpstack/pkg/frame"
	"github.com/bacterium-io/mstpstack/pkg/serial/mock"
)

func TestConfigValidateRejectsConflictingExtensions(t *testing.T) {
	cfg := Config{ThisStation: 1, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600, AutoBaudEnabled: true, ZeroConfigEnabled: true}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsOversizedMaxMaster(t *testing.T) {
	cfg := Config{ThisStation: 1, MaxMaster: 200, MaxInfoFrames: 1, BaudRate: 9600}
	assert.Error(t, cfg.Validate())
}

// TestLoneMasterBecomesSoleMaster reproduces seed scenario 3: a master
// with no peers observes bus silence, sweeps PollForMaster across every
// other address with no replies, and declares itself sole master.
func TestLoneMasterBecomesSoleMaster(t *testing.T) {
	cfg := Config{ThisStation: 5, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600}
	drv := mock.New(9600)
	require.NoError(t, drv.Open())
	port, err := New(cfg, drv)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, port.Poll(now))
	assert.Equal(t, StateIdle, port.state)

	now = now.Add(TNoToken + time.Millisecond)
	require.NoError(t, port.Poll(now))
	assert.Equal(t, StateNoToken, port.state)

	slot := TNoToken + time.Duration(cfg.ThisStation+1)*TSlot
	now = now.Add(slot + time.Millisecond)
	require.NoError(t, port.Poll(now))
	assert.Equal(t, StatePollForMaster, port.state)

	for i := 0; i < 200 && port.state != StateUseToken; i++ {
		now = now.Add(TUsageTimeout + time.Millisecond)
		require.NoError(t, port.Poll(now))
	}

	assert.Equal(t, StateUseToken, port.state)
	assert.True(t, port.soleMaster)
	assert.Equal(t, uint64(1), port.stats.SoleMasterEvents)
	assert.Equal(t, uint8(5), port.nextStation)
}

// TestTokenPassBetweenTwoMasters reproduces seed scenario 4: station 5
// holds the token, sends a broadcast DataNotExpectingReply, then passes
// the token to station 7; 7 emits a valid frame (its own token pass back)
// within Tusage_timeout, so 5 does not retry.
func TestTokenPassBetweenTwoMasters(t *testing.T) {
	drv5 := mock.New(9600)
	drv7 := mock.New(9600)
	mock.Connect(drv5, drv7)
	require.NoError(t, drv5.Open())
	require.NoError(t, drv7.Open())

	port5, err := New(Config{ThisStation: 5, MaxMaster: 127, MaxInfoFrames: 5, BaudRate: 9600}, drv5)
	require.NoError(t, err)
	port7, err := New(Config{ThisStation: 7, MaxMaster: 127, MaxInfoFrames: 5, BaudRate: 9600}, drv7)
	require.NoError(t, err)

	port5.nextStation = 7
	port7.nextStation = 5

	now := time.Now()
	port5.state = StateUseToken
	port5.stateEnteredAt = now
	port5.Submit(OutgoingFrame{Type: frame.DataNotExpectingReply, Dest: frame.Broadcast, Payload: []byte{0xAA}})

	require.NoError(t, port5.Poll(now))
	assert.Len(t, drv5.Sent(), 1)
	assert.Equal(t, StateUseToken, port5.state)

	now = now.Add(time.Millisecond)
	require.NoError(t, port7.Poll(now))

	now = now.Add(time.Millisecond)
	require.NoError(t, port5.Poll(now))
	assert.Equal(t, StateDoneWithToken, port5.state)

	now = now.Add(time.Millisecond)
	require.NoError(t, port5.Poll(now))
	assert.Equal(t, StatePassToken, port5.state)
	assert.Len(t, drv5.Sent(), 2)

	now = now.Add(time.Millisecond)
	require.NoError(t, port7.Poll(now))
	assert.Equal(t, StateUseToken, port7.state)

	now = now.Add(time.Millisecond)
	require.NoError(t, port7.Poll(now))
	assert.Equal(t, StateDoneWithToken, port7.state)

	now = now.Add(time.Millisecond)
	require.NoError(t, port7.Poll(now))
	assert.Equal(t, StatePassToken, port7.state)

	now = now.Add(time.Millisecond)
	require.NoError(t, port5.Poll(now))
	// 7 handed the token straight back (an idle two-station ring); 5
	// becomes the holder again without ever having retransmitted its own
	// Token frame while waiting.
	assert.Equal(t, StateUseToken, port5.state)
	assert.Len(t, drv5.Sent(), 2, "no retransmission of the token while waiting on 7")
}

func TestAnswerDataRequestSendsReplyPostponedWhenNoApplicationReply(t *testing.T) {
	drv := mock.New(9600)
	require.NoError(t, drv.Open())
	port, err := New(Config{ThisStation: 3, MaxMaster: 127, MaxInfoFrames: 1, BaudRate: 9600}, drv)
	require.NoError(t, err)

	now := time.Now()
	req, err := frame.Encode(frame.Frame{Type: frame.DataExpectingReply, Dest: 3, Src: 9, Payload: []byte{1}})
	require.NoError(t, err)
	drv.InjectBytes(req)

	require.NoError(t, port.Poll(now))
	assert.Equal(t, StateAnswerDataRequest, port.state)

	now = now.Add(TReplyDelay + time.Millisecond)
	require.NoError(t, port.Poll(now))
	assert.Equal(t, StateIdle, port.state)

	sent := drv.Sent()
	require.Len(t, sent, 1)
	got, err := frame.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, frame.ReplyPostponed, got.Type)
	assert.Equal(t, uint8(9), got.Dest)
}
