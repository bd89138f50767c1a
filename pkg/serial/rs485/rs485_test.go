package rs485

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsInvalidBaud(t *testing.T) {
	_, err := New("/dev/ttyUSB0", 1200)
	assert.Error(t, err)
}

func TestNewAcceptsValidBaud(t *testing.T) {
	d, err := New("/dev/ttyUSB0", 38400)
	assert.NoError(t, err)
	assert.Equal(t, 38400, d.BaudRate())
}
