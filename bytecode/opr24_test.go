package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpr24RoundTrip(t *testing.T) {
	// Exhaustive over byte boundaries, sampled in between.
	cases := []uint32{0, 1, 0xFF, 0x100, 0xFFFF, 0x10000, 0xABCDEF, Opr24Max}
	for _, x := range cases {
		op, err := NewOpr24(x)
		require.NoError(t, err, "x=%d", x)
		assert.Equal(t, x, op.ToU32(), "x=%d", x)
	}
	for x := uint32(0); x < 1<<24; x += 997 {
		op, err := NewOpr24(x)
		require.NoError(t, err)
		require.Equal(t, x, op.ToU32())
	}
}

func TestOpr24TooLarge(t *testing.T) {
	for _, x := range []uint32{Opr24Max + 1, 1 << 25, ^uint32(0)} {
		_, err := NewOpr24(x)
		assert.ErrorIs(t, err, ErrTooLarge, "x=%d", x)
	}
}

func TestPackOpr24(t *testing.T) {
	op, err := PackOpr24(0x1234, 16, 0x56, 8)
	require.NoError(t, err)
	hi, lo := op.Unpack(8)
	assert.Equal(t, uint32(0x1234), hi)
	assert.Equal(t, uint32(0x56), lo)

	_, err = PackOpr24(1<<16, 16, 0, 8)
	assert.Error(t, err, "high field overflow")
	_, err = PackOpr24(0, 16, 1<<8, 8)
	assert.Error(t, err, "low field overflow")
	_, err = PackOpr24(0, 20, 0, 8)
	assert.Error(t, err, "widths exceed 24 bits")
}
