package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidev/mica/ast"
)

func TestChunkPatch(t *testing.T) {
	c := NewChunk("patch")
	off := c.Push(Nop)
	c.Push(Halt)
	lenBefore := c.Len()

	kind, op, err := c.JumpForward(8)
	require.NoError(t, err)
	c.Patch(off, kind, op)

	assert.Equal(t, lenBefore, c.Len(), "patching must not change the chunk length")
	gotKind, gotOp, _, _, next := c.DecodeAt(off)
	assert.Equal(t, JumpForward, gotKind)
	assert.Equal(t, uint32(8), gotOp.ToU32())
	gotKind, _, _, _, _ = c.DecodeAt(next)
	assert.Equal(t, Halt, gotKind)
}

func TestChunkInlinePayloads(t *testing.T) {
	c := NewChunk("inline")
	c.PushNumber(2.5)
	c.PushString("héllo")
	c.Push(Halt)

	kind, _, num, _, next := c.DecodeAt(0)
	require.Equal(t, PushNumber, kind)
	assert.Equal(t, 2.5, num)

	kind, _, _, str, next := c.DecodeAt(next)
	require.Equal(t, PushString, kind)
	assert.Equal(t, "héllo", str)

	kind, _, _, _, _ = c.DecodeAt(next)
	assert.Equal(t, Halt, kind)
}

func TestChunkLocations(t *testing.T) {
	c := NewChunk("loc")
	locA := ast.Location{ModuleName: "loc", Line: 1, Column: 1}
	locB := ast.Location{ModuleName: "loc", Line: 2, Column: 5}

	c.SetLocation(locA)
	offA := c.Push(PushNil)
	c.SetLocation(locB)
	offB := c.Push(Discard)
	offC := c.Push(Halt)

	assert.Equal(t, locA, c.LocationAt(offA))
	assert.Equal(t, locB, c.LocationAt(offB))
	assert.Equal(t, locB, c.LocationAt(offC), "later instructions inherit the last set location")
}

func TestChunkJumpOffsetTooLarge(t *testing.T) {
	c := NewChunk("big")
	_, _, err := c.JumpForward(1 << 24)
	assert.ErrorIs(t, err, ErrOffsetTooLarge)
	_, _, err = c.JumpBackward(-1)
	assert.ErrorIs(t, err, ErrOffsetTooLarge)
}
