package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackDeliversBytes(t *testing.T) {
	a := New(9600)
	b := New(9600)
	Connect(a, b)
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())

	require.NoError(t, a.Send([]byte{0x55, 0xFF, 0x00}))

	var got []byte
	for {
		bb, ok := b.ByteAvailable()
		if !ok {
			break
		}
		got = append(got, bb)
	}
	assert.Equal(t, []byte{0x55, 0xFF, 0x00}, got)
}

func TestSilenceResetsOnActivity(t *testing.T) {
	a := New(9600)
	require.NoError(t, a.Open())
	a.ResetSilence()
	assert.Less(t, a.SilenceMs(), uint32(50))
}

func TestSetBaudRateRejectsInvalid(t *testing.T) {
	a := New(9600)
	assert.Error(t, a.SetBaudRate(1200))
	assert.NoError(t, a.SetBaudRate(38400))
	assert.Equal(t, 38400, a.BaudRate())
}
