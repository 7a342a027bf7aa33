package gripper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkValidate(t *testing.T) {
	ok := DefaultLink()
	require.NoError(t, ok.Validate())

	tests := []struct {
		name    string
		mutate  func(l *SerialLinkConfig)
		mention string
	}{
		{"baud", func(l *SerialLinkConfig) { l.BaudRate = 4800 }, "baud"},
		{"parity", func(l *SerialLinkConfig) { l.Parity = "MARK" }, "parity"},
		{"data bits", func(l *SerialLinkConfig) { l.DataBits = 6 }, "data bits"},
		{"stop bits", func(l *SerialLinkConfig) { l.StopBits = 3 }, "stop bits"},
		{"timeout low", func(l *SerialLinkConfig) { l.TimeoutMs = 99 }, "timeout"},
		{"timeout high", func(l *SerialLinkConfig) { l.TimeoutMs = 801 }, "timeout"},
		{"first failure wins", func(l *SerialLinkConfig) { l.BaudRate = 1; l.TimeoutMs = 0 }, "baud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLink()
			tt.mutate(&l)
			err := l.Validate()
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Contains(t, err.Error(), tt.mention)
		})
	}
}

func TestLinkBoundaries(t *testing.T) {
	l := DefaultLink()
	l.TimeoutMs = 100
	assert.NoError(t, l.Validate())
	l.TimeoutMs = 800
	assert.NoError(t, l.Validate())
	l.Parity = "even"
	assert.NoError(t, l.Validate())
	assert.Equal(t, "E", l.ParityCode())
}

func TestValidateDeviceID(t *testing.T) {
	assert.NoError(t, ValidateDeviceID(1))
	assert.NoError(t, ValidateDeviceID(247))
	assert.Error(t, ValidateDeviceID(0))
	assert.Error(t, ValidateDeviceID(248))
}
