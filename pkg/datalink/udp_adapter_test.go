package datalink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrMAC(t *testing.T, u *UDP) []byte {
	t.Helper()
	return udpAddrToMAC(u.LocalAddr())
}

func TestUDPSendThenPollRoundTrips(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	peer := Address{Net: 0, MAC: addrMAC(t, b)}
	n, err := a.Send(peer, []byte{0x01, 0x08}, []byte{0x10, 0x08})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	from, payload, ok := b.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x08, 0x10, 0x08}, payload)
	assert.Equal(t, addrMAC(t, a), from.MAC)
}

func TestUDPSendRejectsOversizedDatagram(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	huge := make([]byte, udpMaxDatagram)
	_, err = a.Send(Address{Net: 0, MAC: addrMAC(t, b)}, nil, huge)
	assert.ErrorIs(t, err, ErrDatagramTooLarge)
}

func TestUDPSendRejectsNonIPv4Peer(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Send(Address{Net: 0, MAC: []byte{1, 2, 3}}, nil, []byte{0x01})
	assert.ErrorIs(t, err, ErrPeerNotIPv4Routable)
}

func TestUDPPollReturnsFalseOnCanceledContext(t *testing.T) {
	a, err := NewUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, ok := a.Poll(ctx)
	assert.False(t, ok)
}
