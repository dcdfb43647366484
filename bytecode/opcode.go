package bytecode

import "fmt"

// Kind identifies an instruction. Every Kind except PushNumber and
// PushString is encoded uniformly as a kind byte followed by an Opr24
// operand (unused operands are encoded as zero); PushNumber and PushString
// instead carry their own inline payloads. Encoding every non-inline
// instruction at the same width means a reserved placeholder can always be
// patched into whatever instruction codegen eventually decides to put
// there, regardless of whether that instruction actually uses its operand
// (see Chunk.Patch).
type Kind uint8

const (
	Nop Kind = iota

	PushNil
	PushTrue
	PushFalse
	PushNumber
	PushString

	GetLocal
	AssignLocal
	GetGlobal
	AssignGlobal
	GetUpvalue
	AssignUpvalue

	Discard
	Swap

	Negate
	Not

	Add
	Subtract
	Multiply
	Divide

	Equal
	Less
	LessEqual

	Call
	CallMethod

	CreateClosure

	Return
	Halt

	JumpForward
	JumpForwardIfFalsy
	JumpForwardIfTruthy
	JumpBackward

	EnterBreakableBlock
	ExitBreakableBlock
)

var kindNames = [...]string{
	Nop:                  "nop",
	PushNil:              "push_nil",
	PushTrue:             "push_true",
	PushFalse:            "push_false",
	PushNumber:           "push_number",
	PushString:           "push_string",
	GetLocal:             "get_local",
	AssignLocal:          "assign_local",
	GetGlobal:            "get_global",
	AssignGlobal:         "assign_global",
	GetUpvalue:           "get_upvalue",
	AssignUpvalue:        "assign_upvalue",
	Discard:              "discard",
	Swap:                 "swap",
	Negate:               "negate",
	Not:                  "not",
	Add:                  "add",
	Subtract:             "subtract",
	Multiply:             "multiply",
	Divide:               "divide",
	Equal:                "equal",
	Less:                 "less",
	LessEqual:            "less_equal",
	Call:                 "call",
	CallMethod:           "call_method",
	CreateClosure:        "create_closure",
	Return:               "return",
	Halt:                 "halt",
	JumpForward:          "jump_forward",
	JumpForwardIfFalsy:   "jump_forward_if_falsy",
	JumpForwardIfTruthy:  "jump_forward_if_truthy",
	JumpBackward:         "jump_backward",
	EnterBreakableBlock:  "enter_breakable_block",
	ExitBreakableBlock:   "exit_breakable_block",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("invalid opcode (%d)", k)
}

// isInline reports whether a Kind carries its own inline payload rather than
// a uniform Opr24 operand.
func (k Kind) isInline() bool {
	return k == PushNumber || k == PushString
}

// isJump reports whether a Kind is one of the relative-jump instructions,
// whose operand is interpreted as an absolute code offset rather than an
// opaque index.
func (k Kind) isJump() bool {
	switch k {
	case JumpForward, JumpForwardIfFalsy, JumpForwardIfTruthy, JumpBackward:
		return true
	default:
		return false
	}
}

// Opcode is a decoded instruction: a Kind plus its Opr24 operand. For
// PushNumber and PushString, Operand is unused; use Chunk.DecodeAt to
// retrieve their inline payloads.
type Opcode struct {
	Kind    Kind
	Operand Opr24
}
