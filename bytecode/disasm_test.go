package bytecode_test

import (
	"testing"

	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/internal/filetest"
)

func TestDisassembleBasic(t *testing.T) {
	c := bytecode.NewChunk("test")
	c.PushNumber(3)
	c.PushNumber(4)
	c.Push(bytecode.Add)
	operand, err := bytecode.PackOpr24(2, 16, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	c.PushOperand(bytecode.CallMethod, operand)
	c.Push(bytecode.Halt)

	filetest.AssertGolden(t, "testdata", "disasm_basic", bytecode.Disassemble(c))
}

func TestDisassembleJump(t *testing.T) {
	c := bytecode.NewChunk("jump")
	nop := c.Push(bytecode.Nop)
	c.Push(bytecode.PushTrue)
	kind, operand, err := c.JumpForward(4)
	if err != nil {
		t.Fatal(err)
	}
	c.Patch(nop, kind, operand)
	c.Push(bytecode.Halt)

	filetest.AssertGolden(t, "testdata", "disasm_jump", bytecode.Disassemble(c))
}
