package bytecode

import (
	"bytes"
	"fmt"
)

// Disassemble renders chunk's instruction stream as human-readable text,
// one instruction per line prefixed with its byte offset, with jump
// operands annotated by arrow so the target offset doesn't need decoding by
// hand. It has no bearing on execution; it exists for tests and for a host
// embedding the engine to inspect what it compiled.
func Disassemble(c *Chunk) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "chunk: %s (%d bytes, %d stack slots)\n", c.ModuleName, len(c.Code), c.PreallocateStackSlots)

	offset := 0
	for offset < len(c.Code) {
		kind, operand, num, str, next := c.DecodeAt(offset)
		switch {
		case kind == PushNumber:
			fmt.Fprintf(&b, "\t%04d\t%s %g\n", offset, kind, num)
		case kind == PushString:
			fmt.Fprintf(&b, "\t%04d\t%s %q\n", offset, kind, str)
		case kind == CallMethod:
			methodIndex, argc := operand.Unpack(8)
			fmt.Fprintf(&b, "\t%04d\t%s method=%d argc=%d\n", offset, kind, methodIndex, argc)
		case kind.isJump():
			fmt.Fprintf(&b, "\t%04d\t%s -> %04d\n", offset, kind, operand.ToU32())
		case operand == (Opr24{}):
			fmt.Fprintf(&b, "\t%04d\t%s\n", offset, kind)
		default:
			fmt.Fprintf(&b, "\t%04d\t%s %d\n", offset, kind, operand.ToU32())
		}
		offset = next
	}
	return b.String()
}
