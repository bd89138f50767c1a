package npdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsPlainAPDU(t *testing.T) {
	h := Header{ExpectingReply: true, Priority: PriorityUrgent}
	wire, err := Encode(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{Version, ctrlExpectingReply | byte(PriorityUrgent)}, wire)

	got, rest, err := Decode(append(wire, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)
}

func TestEncodeDecodeRoundTripsRoutedDestinationAndSource(t *testing.T) {
	h := Header{
		Dest:     &Route{Net: 100, Addr: []byte{1, 2, 3}},
		Src:      &Route{Net: 50, Addr: nil},
		HopCount: 255,
	}
	wire, err := Encode(h)
	require.NoError(t, err)

	got, rest, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Empty(t, rest)
}

func TestEncodeRejectsOversizedRouteAddress(t *testing.T) {
	h := Header{Dest: &Route{Net: 1, Addr: make([]byte, 8)}}
	_, err := Encode(h)
	assert.ErrorIs(t, err, ErrRouteAddressTooLong)
}

func TestDecodeNetworkLayerMessageWithVendorID(t *testing.T) {
	h := Header{
		IsNetworkMessage: true,
		NetworkMessage:   NetworkMessage{MessageType: 0x80, VendorID: 42},
	}
	wire, err := Encode(h)
	require.NoError(t, err)

	got, rest, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Empty(t, rest)
	assert.True(t, got.NetworkMessage.IsVendorProprietary())
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	_, _, err := Decode([]byte{0x02, 0x00})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsTruncatedRoute(t *testing.T) {
	_, _, err := Decode([]byte{Version, ctrlDestPresent, 0x00, 0x01, 0x05, 0xAA})
	assert.ErrorIs(t, err, ErrNpduMalformed)
}
