package datalink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsLocalAddressWithMAC(t *testing.T) {
	assert.ErrorIs(t, Address{Net: 0, MAC: []byte{1}}.Validate(), ErrInvalidAddress)
}

func TestValidateRejectsOversizedMAC(t *testing.T) {
	assert.ErrorIs(t, Address{Net: 100, MAC: make([]byte, 8)}.Validate(), ErrInvalidAddress)
}

func TestValidateAcceptsBroadcastAndRouted(t *testing.T) {
	assert.NoError(t, Address{Net: 0xFFFF}.Validate())
	assert.NoError(t, Address{Net: 100, MAC: []byte{1, 2, 3}}.Validate())
}

func TestIsBroadcast(t *testing.T) {
	assert.True(t, Address{Net: 100}.IsBroadcast())
	assert.False(t, Address{Net: 100, MAC: []byte{1}}.IsBroadcast())
}

func TestLocalConstructsLocalAddress(t *testing.T) {
	a := Local([]byte{5})
	assert.Equal(t, uint16(0), a.Net)
	assert.Equal(t, []byte{5}, a.MAC)
}
