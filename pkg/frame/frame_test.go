package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripEmptyPayload(t *testing.T) {
	f := Frame{Type: Token, Dest: 1, Src: 2}

	wire, err := Encode(f)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(wire, []byte{Preamble0, Preamble1}))
	assert.Len(t, wire, 2+HeaderLen+1) // no payload, no data CRC

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Dest, got.Dest)
	assert.Equal(t, f.Src, got.Src)
	assert.Empty(t, got.Payload)
}

func TestEncodeDecodeRoundTripWithPayload(t *testing.T) {
	f := Frame{
		Type:    DataExpectingReply,
		Dest:    10,
		Src:     20,
		Payload: []byte{0x01, 0x02, 0x03, 0x04},
	}

	wire, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestEncodeRejectsOverlongPayload(t *testing.T) {
	f := Frame{Type: DataExpectingReply, Dest: 1, Src: 2, Payload: make([]byte, MaxPayload+1)}
	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestEncodeAcceptsMaxPayload(t *testing.T) {
	f := Frame{Type: DataExpectingReply, Dest: 1, Src: 2, Payload: make([]byte, MaxPayload)}
	wire, err := Encode(f)
	require.NoError(t, err)
	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Len(t, got.Payload, MaxPayload)
}

func TestEncodeRejectsBroadcastSource(t *testing.T) {
	f := Frame{Type: Token, Dest: 1, Src: Broadcast}
	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrBadSourceMAC)
}

func TestDecodeDetectsHeaderCorruption(t *testing.T) {
	f := Frame{Type: Token, Dest: 1, Src: 2}
	wire, err := Encode(f)
	require.NoError(t, err)

	wire[3] ^= 0x01 // corrupt destination MAC, after preamble+type
	_, err = Decode(wire)
	assert.ErrorIs(t, err, ErrHeaderCRC)
}

func TestDecodeDetectsDataCorruption(t *testing.T) {
	f := Frame{Type: DataExpectingReply, Dest: 1, Src: 2, Payload: []byte{1, 2, 3}}
	wire, err := Encode(f)
	require.NoError(t, err)

	wire[len(wire)-3] ^= 0xFF // corrupt last payload byte
	_, err = Decode(wire)
	assert.ErrorIs(t, err, ErrDataCRC)
}

func TestDecodeRejectsBadPreamble(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadPreamble)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{Preamble0, Preamble1, 0x00})
	assert.ErrorIs(t, err, ErrFrameTruncated)
}

func TestBroadcastDestinationNeverRejected(t *testing.T) {
	f := Frame{Type: DataNotExpectingReply, Dest: Broadcast, Src: 5}
	_, err := Encode(f)
	assert.NoError(t, err)
}
