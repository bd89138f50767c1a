package portable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsInvalidBaud(t *testing.T) {
	_, err := New("/dev/ttyUSB0", 1200)
	assert.Error(t, err)
}

func TestNewAcceptsValidBaud(t *testing.T) {
	d, err := New("/dev/ttyUSB0", 76800)
	assert.NoError(t, err)
	assert.Equal(t, 76800, d.BaudRate())
}
