package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/liquidev/mica/ast"
)

// instructionWidth is the encoded size, in bytes, of every non-inline
// instruction: one kind byte plus a 3-byte Opr24 operand (zeroed when the
// instruction doesn't use it).
const instructionWidth = 1 + 3

// ErrOffsetTooLarge is the generic failure produced by Chunk's jump helpers
// when a computed relative offset does not fit in an Opr24. The code
// generator wraps this into a context-specific error kind (JumpTooLarge,
// IfBranchTooLarge, and so on) depending on which construct it was
// emitting.
var ErrOffsetTooLarge = fmt.Errorf("jump offset too large")

type locationMark struct {
	offset int
	loc    ast.Location
}

// Chunk is a module's compiled bytecode: an append-only instruction stream,
// a source-location side table keyed by instruction offset, and a hint for
// how many stack slots the code generator determined it needs for locals.
type Chunk struct {
	ModuleName string

	// PreallocateStackSlots is the high-water mark of local variable slots
	// observed by the code generator; the VM uses it to size a frame's
	// locals region up front.
	PreallocateStackSlots uint32

	Code []byte

	locations      []locationMark
	currentLoc     ast.Location
	haveCurrentLoc bool
}

// NewChunk creates an empty chunk for the given module.
func NewChunk(moduleName string) *Chunk {
	return &Chunk{ModuleName: moduleName}
}

// Len returns the number of bytes currently in the instruction stream; this
// doubles as "the offset the next instruction will be written at".
func (c *Chunk) Len() int {
	return len(c.Code)
}

// SetLocation changes the location attached to subsequently pushed
// instructions. The code generator calls this before generating each AST
// node and restores the previous location afterwards, so that nested
// sub-expressions still get their own precise location.
func (c *Chunk) SetLocation(loc ast.Location) {
	c.currentLoc = loc
	c.haveCurrentLoc = true
}

// CurrentLocation returns the location most recently set via SetLocation,
// used by the code generator to save/restore it around a nested node.
func (c *Chunk) CurrentLocation() ast.Location {
	return c.currentLoc
}

func (c *Chunk) stampLocation(offset int) {
	if !c.haveCurrentLoc {
		return
	}
	if n := len(c.locations); n > 0 && c.locations[n-1].loc == c.currentLoc {
		return
	}
	c.locations = append(c.locations, locationMark{offset: offset, loc: c.currentLoc})
}

// LocationAt returns the location that was current when the instruction at
// the given offset was emitted.
func (c *Chunk) LocationAt(offset int) ast.Location {
	i := sort.Search(len(c.locations), func(i int) bool {
		return c.locations[i].offset > offset
	})
	if i == 0 {
		return ast.Location{ModuleName: c.ModuleName}
	}
	return c.locations[i-1].loc
}

func encode(kind Kind, operand Opr24) []byte {
	return []byte{byte(kind), operand.b0, operand.b1, operand.b2}
}

// Push appends an operand-less instruction (Nop, PushNil, Discard, Return,
// Halt, and so on) and returns its offset, suitable for later use with
// Patch.
func (c *Chunk) Push(kind Kind) int {
	return c.PushOperand(kind, Opr24{})
}

// PushOperand appends an instruction together with its Opr24 operand and
// returns its offset.
func (c *Chunk) PushOperand(kind Kind, operand Opr24) int {
	if kind.isInline() {
		panic(fmt.Sprintf("bytecode: %s must be pushed via PushNumber/PushString", kind))
	}
	offset := len(c.Code)
	c.stampLocation(offset)
	c.Code = append(c.Code, encode(kind, operand)...)
	return offset
}

// PushNumber appends a PushNumber instruction with its f64 payload inlined
// as 8 little-endian bytes directly after the kind byte.
func (c *Chunk) PushNumber(n float64) int {
	offset := len(c.Code)
	c.stampLocation(offset)
	c.Code = append(c.Code, byte(PushNumber))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(n))
	c.Code = append(c.Code, buf[:]...)
	return offset
}

// PushString appends a PushString instruction whose payload is a
// little-endian uint32 byte length followed by the UTF-8 bytes of s.
func (c *Chunk) PushString(s string) int {
	offset := len(c.Code)
	c.stampLocation(offset)
	c.Code = append(c.Code, byte(PushString))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	c.Code = append(c.Code, lenBuf[:]...)
	c.Code = append(c.Code, s...)
	return offset
}

// Patch overwrites the instruction previously reserved at offset (almost
// always a Nop pushed specifically to be patched later) with a concrete
// instruction of the same encoded width. offset must refer to the start of
// a non-inline instruction.
func (c *Chunk) Patch(offset int, kind Kind, operand Opr24) {
	if kind.isInline() {
		panic(fmt.Sprintf("bytecode: cannot patch with inline opcode %s", kind))
	}
	copy(c.Code[offset:offset+instructionWidth], encode(kind, operand))
}

// relativeJump computes the Opr24-encoded absolute target offset `to` for a
// jump instruction. Targets are stored as absolute
// code offsets rather than signed deltas, which keeps both forward and
// backward jumps a single encoding: the VM simply sets its program counter
// to the operand.
func relativeJump(to int) (Opr24, error) {
	if to < 0 {
		return Opr24{}, ErrOffsetTooLarge
	}
	op, err := NewOpr24(uint32(to))
	if err != nil {
		return Opr24{}, ErrOffsetTooLarge
	}
	return op, nil
}

// JumpForward builds a JumpForward instruction jumping to the current end of
// the chunk (or any other already-known offset), suitable for Patch.
func (c *Chunk) JumpForward(to int) (Kind, Opr24, error) {
	op, err := relativeJump(to)
	return JumpForward, op, err
}

// JumpForwardIfFalsy is the conditional counterpart of JumpForward.
func (c *Chunk) JumpForwardIfFalsy(to int) (Kind, Opr24, error) {
	op, err := relativeJump(to)
	return JumpForwardIfFalsy, op, err
}

// JumpForwardIfTruthy is the conditional counterpart of JumpForward.
func (c *Chunk) JumpForwardIfTruthy(to int) (Kind, Opr24, error) {
	op, err := relativeJump(to)
	return JumpForwardIfTruthy, op, err
}

// JumpBackward builds a JumpBackward instruction jumping to a previously
// recorded offset (the top of a loop).
func (c *Chunk) JumpBackward(to int) (Kind, Opr24, error) {
	op, err := relativeJump(to)
	return JumpBackward, op, err
}

// DecodeAt decodes the instruction at offset, returning it together with the
// offset of the next instruction. It understands the inline encodings of
// PushNumber and PushString.
func (c *Chunk) DecodeAt(offset int) (kind Kind, operand Opr24, number float64, str string, next int) {
	kind = Kind(c.Code[offset])
	switch kind {
	case PushNumber:
		bits := binary.LittleEndian.Uint64(c.Code[offset+1 : offset+9])
		number = math.Float64frombits(bits)
		next = offset + 9
	case PushString:
		n := binary.LittleEndian.Uint32(c.Code[offset+1 : offset+5])
		start := offset + 5
		str = string(c.Code[start : start+int(n)])
		next = start + int(n)
	default:
		operand = Opr24{c.Code[offset+1], c.Code[offset+2], c.Code[offset+3]}
		next = offset + instructionWidth
	}
	return kind, operand, number, str, next
}
