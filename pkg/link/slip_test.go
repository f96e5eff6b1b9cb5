package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(d *Deframer, b []byte) ([][]byte, []error) {
	var frames [][]byte
	var errs []error
	for _, c := range b {
		f, err := d.Feed(c)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestSlipRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"plain", []byte{1, 2, 3}},
		{"end byte", []byte{0xC0}},
		{"esc byte", []byte{0xDB, 0xDC, 0xDD}},
		{"mixed", []byte{7, 0xC0, 0, 0xDB, 0xC0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := AppendFrame(nil, tt.msg)
			assert.Equal(t, byte(0xC0), wire[0])
			assert.Equal(t, byte(0xC0), wire[len(wire)-1])
			assert.NotContains(t, wire[1:len(wire)-1], byte(0xC0))

			frames, errs := feedAll(NewDeframer(64), wire)
			assert.Empty(t, errs)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.msg, frames[0])
		})
	}
}

func TestSlipBackToBackFrames(t *testing.T) {
	var wire []byte
	wire = AppendFrame(wire, []byte{1})
	wire = AppendFrame(wire, []byte{2, 2})

	frames, errs := feedAll(NewDeframer(64), wire)
	assert.Empty(t, errs)
	assert.Equal(t, [][]byte{{1}, {2, 2}}, frames)
}

func TestSlipOversizedFrameDiscarded(t *testing.T) {
	d := NewDeframer(4)
	var wire []byte
	wire = AppendFrame(wire, []byte{1, 2, 3, 4, 5})
	wire = AppendFrame(wire, []byte{9})

	frames, errs := feedAll(d, wire)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFrameTooLong)
	assert.Equal(t, [][]byte{{9}}, frames)
}
