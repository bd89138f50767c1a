package apdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, h Header, payload []byte) {
	t.Helper()
	wire, err := Encode(h)
	require.NoError(t, err)
	got, rest, err := Decode(append(append([]byte{}, wire...), payload...))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, payload, rest)
}

func TestRoundTripConfirmedRequestUnsegmented(t *testing.T) {
	roundTrip(t, Header{
		Type: ConfirmedRequest, MaxSegments: 3, MaxAPDU: 5,
		InvokeID: 42, ServiceChoice: 0x0C,
	}, []byte{0x0C, 0x01})
}

func TestRoundTripConfirmedRequestSegmented(t *testing.T) {
	roundTrip(t, Header{
		Type: ConfirmedRequest, Segmented: true, MoreFollows: true,
		SegmentedResponseAccepted: true, MaxSegments: 7, MaxAPDU: 5,
		InvokeID: 7, SequenceNumber: 2, WindowSize: 4, ServiceChoice: 0x0E,
	}, []byte{0xAA})
}

func TestRoundTripUnconfirmedRequest(t *testing.T) {
	roundTrip(t, Header{Type: UnconfirmedRequest, ServiceChoice: 0x08}, nil)
}

func TestRoundTripSimpleAck(t *testing.T) {
	roundTrip(t, Header{Type: SimpleAck, InvokeID: 9, ServiceChoice: 0x0F}, nil)
}

func TestRoundTripComplexAckSegmented(t *testing.T) {
	roundTrip(t, Header{
		Type: ComplexAck, Segmented: true, InvokeID: 3,
		SequenceNumber: 1, WindowSize: 5, ServiceChoice: 0x0C,
	}, []byte{0x01, 0x02})
}

func TestRoundTripSegmentAck(t *testing.T) {
	roundTrip(t, Header{
		Type: SegmentAck, NegativeAck: true, Server: true,
		InvokeID: 3, SequenceNumber: 2, WindowSize: 6,
	}, nil)
}

func TestRoundTripError(t *testing.T) {
	roundTrip(t, Header{Type: Error, InvokeID: 5, ServiceChoice: 0x0C}, []byte{0x91, 0x00})
}

func TestRoundTripReject(t *testing.T) {
	roundTrip(t, Header{Type: Reject, InvokeID: 5, RejectReason: 9}, nil)
}

func TestRoundTripAbort(t *testing.T) {
	roundTrip(t, Header{Type: Abort, Server: true, InvokeID: 5, AbortReason: 3}, nil)
}

func TestEncodeRejectsOversizedConfirmedRequestFields(t *testing.T) {
	_, err := Encode(Header{Type: ConfirmedRequest, MaxAPDU: 0x10, InvokeID: 1})
	assert.ErrorIs(t, err, ErrHeaderOversized)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, _, err := Decode([]byte{byte(SimpleAck) << 4, 0x01})
	assert.ErrorIs(t, err, ErrApduMalformed)
}

func TestDecodeRejectsEmptyBuffer(t *testing.T) {
	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrApduMalformed)
}
