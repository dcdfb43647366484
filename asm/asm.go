// Package asm implements a human-readable, writable form of a compiled
// module. This is mostly to support testing and driving of the VM without
// going through a parsing front end (which this module does not ship); the
// matching disassembler lives in the bytecode package.
//
// The assembly format looks like this (indentation and spacing are
// arbitrary, but order of sections is important):
//
//	module: NAME                  # required, once, first
//
//	function: NAME <stack> <params> [+varargs] [+hidden]
//	                              # optional, any number of times
//		captures:                   # optional, list of upvalue sources
//			local 2                   # slot of the enclosing frame
//			upvalue 0                 # upvalue of the enclosing closure
//		code:                       # required, list of instructions
//			push_number 1.5
//			get_global x              # global operands are names, interned
//			call_method push/1 1      # method signature, then argc
//			jump_forward 7            # jump operands are instruction indexes
//			return                    # (translated to byte offsets)
//
//	main: <stack>                 # required, once, last
//		code:
//			...
//			halt
//
// Instruction mnemonics are the bytecode package's opcode names.
// create_closure takes the name of a previously declared function:
// section order doubles as declaration order, so mutual recursion between
// assembled functions is out of scope here (script code gets it through
// globals, not function ids).
package asm

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/value"
)

// Assemble loads a module from its assembler textual format, interning its
// functions, globals, and method signatures into e, and returns the main
// chunk ready for a Fiber to run.
func Assemble(e *env.Environment, b []byte) (*bytecode.Chunk, error) {
	a := asm{s: bufio.NewScanner(bytes.NewReader(b)), env: e, functionIDs: make(map[string]bytecode.Opr24)}

	fields := a.next()
	a.module(fields)

	fields = a.next()
	for a.err == nil && len(fields) > 0 && strings.EqualFold(fields[0], "function:") {
		fields = a.function(fields)
	}
	fields = a.main(fields)

	if a.err == nil && len(fields) > 0 {
		a.err = fmt.Errorf("unexpected section: %s", fields[0])
	}
	if a.err == nil && a.mainChunk == nil {
		a.err = fmt.Errorf("missing main section")
	}
	return a.mainChunk, a.err
}

var sections = map[string]bool{
	"module:":   true,
	"function:": true,
	"captures:": true,
	"code:":     true,
	"main:":     true,
}

type asm struct {
	s          *bufio.Scanner
	env        *env.Environment
	moduleName string

	functionIDs map[string]bytecode.Opr24
	mainChunk   *bytecode.Chunk

	// pending holds a lookahead line produced by a section parser that read
	// one line too far; nextPending drains it before scanning on.
	pending []string

	err error
}

// next returns the fields of the next non-empty line, stripping comments.
func (a *asm) next() []string {
	for a.s.Scan() {
		line := a.s.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := splitFields(line)
		if len(fields) > 0 {
			return fields
		}
	}
	return nil
}

// splitFields splits a line on whitespace, keeping a double-quoted string
// (with Go escape syntax) together as a single field.
func splitFields(line string) []string {
	var fields []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] == '"' {
			end := 1
			for end < len(rest) {
				if rest[end] == '\\' {
					end += 2
					continue
				}
				if rest[end] == '"' {
					end++
					break
				}
				end++
			}
			fields = append(fields, rest[:end])
			rest = strings.TrimSpace(rest[end:])
			continue
		}
		i := strings.IndexFunc(rest, func(r rune) bool { return r == ' ' || r == '\t' })
		if i < 0 {
			fields = append(fields, rest)
			break
		}
		fields = append(fields, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	return fields
}

func (a *asm) module(fields []string) {
	if a.err != nil {
		return
	}
	if len(fields) != 2 || !strings.EqualFold(fields[0], "module:") {
		a.err = fmt.Errorf("expected 'module: NAME' as the first section")
		return
	}
	a.moduleName = fields[1]
}

func (a *asm) uint(field string) uint32 {
	if a.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		a.err = fmt.Errorf("invalid integer %q: %w", field, err)
		return 0
	}
	return uint32(n)
}

func (a *asm) option(fields []string, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f, "+"+name) {
			return true
		}
	}
	return false
}

// function assembles one 'function:' section and returns the first line of
// the next section.
func (a *asm) function(fields []string) []string {
	if a.err != nil {
		return fields
	}
	if len(fields) < 4 {
		a.err = fmt.Errorf("invalid function: want 'function: NAME <stack> <params> [+varargs] [+hidden]', got %q", strings.Join(fields, " "))
		return nil
	}
	name := fields[1]
	stack := a.uint(fields[2])
	params := a.uint(fields[3])
	variadic := a.option(fields[4:], "varargs")
	hidden := a.option(fields[4:], "hidden")

	fields = a.next()
	captures := a.captures(fields)
	if captures != nil {
		fields = a.nextPending()
	}
	chunk := a.code(fields, stack)
	if a.err != nil {
		return nil
	}

	fn := &env.Function{
		Name:                name,
		Kind:                env.Bytecode,
		Chunk:               chunk,
		Captures:            captures,
		HiddenInStackTraces: hidden,
	}
	if !variadic {
		p := uint16(params)
		fn.ParameterCount = &p
	}
	id, err := a.env.CreateFunction(fn)
	if err != nil {
		a.err = err
		return nil
	}
	a.functionIDs[name] = id
	return a.nextPending()
}

// captures parses an optional 'captures:' section; returns nil when fields
// opens a different section.
func (a *asm) captures(fields []string) []env.Capture {
	if a.err != nil || len(fields) == 0 || !strings.EqualFold(fields[0], "captures:") {
		return nil
	}
	caps := []env.Capture{}
	for {
		fields = a.next()
		if len(fields) == 0 || sections[strings.ToLower(fields[0])] {
			a.pending = fields
			return caps
		}
		if len(fields) != 2 {
			a.err = fmt.Errorf("invalid capture: want 'local N' or 'upvalue N', got %q", strings.Join(fields, " "))
			return caps
		}
		switch strings.ToLower(fields[0]) {
		case "local":
			caps = append(caps, env.Capture{Index: a.uint(fields[1])})
		case "upvalue":
			caps = append(caps, env.Capture{FromUpvalue: true, Index: a.uint(fields[1])})
		default:
			a.err = fmt.Errorf("invalid capture source %q", fields[0])
			return caps
		}
	}
}

func (a *asm) main(fields []string) []string {
	if a.err != nil {
		return fields
	}
	if len(fields) < 2 || !strings.EqualFold(fields[0], "main:") {
		a.err = fmt.Errorf("expected 'main: <stack>', got %q", strings.Join(fields, " "))
		return nil
	}
	stack := a.uint(fields[1])
	a.mainChunk = a.code(a.next(), stack)
	return a.nextPending()
}

// instr is one parsed instruction before jump targets are resolved from
// instruction indexes to byte offsets.
type instr struct {
	kind    bytecode.Kind
	operand bytecode.Opr24
	number  float64
	str     string
	jumpTo  int
}

// code parses a 'code:' section and assembles it into a chunk. Jump
// operands in the source refer to instruction indexes within the section
// and are translated to byte offsets once every instruction's width is
// known, the same two-pass trick the disassembled form avoids by printing
// offsets directly.
func (a *asm) code(fields []string, stack uint32) *bytecode.Chunk {
	if a.err != nil {
		return nil
	}
	if len(fields) != 1 || !strings.EqualFold(fields[0], "code:") {
		a.err = fmt.Errorf("expected 'code:' section, got %q", strings.Join(fields, " "))
		return nil
	}

	var instrs []instr
	for {
		fields = a.nextPending()
		if len(fields) == 0 || sections[strings.ToLower(fields[0])] {
			a.pending = fields
			break
		}
		in, ok := a.instruction(fields)
		if !ok {
			return nil
		}
		instrs = append(instrs, in)
	}

	chunk := bytecode.NewChunk(a.moduleName)
	chunk.PreallocateStackSlots = stack

	// First pass: compute each instruction's byte offset.
	offsets := make([]int, len(instrs)+1)
	for i, in := range instrs {
		width := 4
		switch in.kind {
		case bytecode.PushNumber:
			width = 9
		case bytecode.PushString:
			width = 5 + len(in.str)
		}
		offsets[i+1] = offsets[i] + width
	}

	for i, in := range instrs {
		switch {
		case in.kind == bytecode.PushNumber:
			chunk.PushNumber(in.number)
		case in.kind == bytecode.PushString:
			chunk.PushString(in.str)
		case in.jumpTo >= 0:
			if in.jumpTo >= len(offsets) {
				a.err = fmt.Errorf("jump target %d out of range in instruction %d", in.jumpTo, i)
				return nil
			}
			op, err := bytecode.NewOpr24(uint32(offsets[in.jumpTo]))
			if err != nil {
				a.err = err
				return nil
			}
			chunk.PushOperand(in.kind, op)
		default:
			chunk.PushOperand(in.kind, in.operand)
		}
	}
	return chunk
}

func (a *asm) nextPending() []string {
	if a.pending != nil {
		fields := a.pending
		a.pending = nil
		return fields
	}
	return a.next()
}

func (a *asm) instruction(fields []string) (instr, bool) {
	kind, ok := opcodeByName(fields[0])
	if !ok {
		a.err = fmt.Errorf("unknown opcode %q", fields[0])
		return instr{}, false
	}
	in := instr{kind: kind, jumpTo: -1}
	args := fields[1:]

	switch kind {
	case bytecode.PushNumber:
		if len(args) != 1 {
			a.err = fmt.Errorf("push_number wants one operand")
			return instr{}, false
		}
		n, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			a.err = fmt.Errorf("invalid number %q: %w", args[0], err)
			return instr{}, false
		}
		in.number = n

	case bytecode.PushString:
		if len(args) != 1 {
			a.err = fmt.Errorf("push_string wants one quoted operand")
			return instr{}, false
		}
		s, err := strconv.Unquote(args[0])
		if err != nil {
			a.err = fmt.Errorf("invalid string %s: %w", args[0], err)
			return instr{}, false
		}
		in.str = s

	case bytecode.GetGlobal, bytecode.AssignGlobal:
		if len(args) != 1 {
			a.err = fmt.Errorf("%s wants a global name", kind)
			return instr{}, false
		}
		slot, ok := a.env.GetGlobal(args[0])
		if !ok {
			var err error
			slot, err = a.env.CreateGlobal(args[0])
			if err != nil {
				a.err = err
				return instr{}, false
			}
		}
		in.operand = slot

	case bytecode.CallMethod:
		if len(args) != 2 {
			a.err = fmt.Errorf("call_method wants 'name/arity argc'")
			return instr{}, false
		}
		sig, ok := a.signature(args[0])
		if !ok {
			return instr{}, false
		}
		idx, err := a.env.GetOrCreateMethodIndex(sig)
		if err != nil {
			a.err = err
			return instr{}, false
		}
		operand, err := bytecode.PackOpr24(uint32(idx), 16, a.uint(args[1]), 8)
		if err != nil {
			a.err = err
			return instr{}, false
		}
		in.operand = operand

	case bytecode.CreateClosure:
		if len(args) != 1 {
			a.err = fmt.Errorf("create_closure wants a function name")
			return instr{}, false
		}
		id, ok := a.functionIDs[args[0]]
		if !ok {
			a.err = fmt.Errorf("create_closure: unknown function %q", args[0])
			return instr{}, false
		}
		in.operand = id

	case bytecode.JumpForward, bytecode.JumpForwardIfFalsy, bytecode.JumpForwardIfTruthy, bytecode.JumpBackward:
		if len(args) != 1 {
			a.err = fmt.Errorf("%s wants an instruction index", kind)
			return instr{}, false
		}
		in.jumpTo = int(a.uint(args[0]))

	default:
		switch len(args) {
		case 0:
		case 1:
			op, err := bytecode.NewOpr24(a.uint(args[0]))
			if err != nil {
				a.err = err
				return instr{}, false
			}
			in.operand = op
		default:
			a.err = fmt.Errorf("%s wants at most one operand", kind)
			return instr{}, false
		}
	}
	return in, a.err == nil
}

// signature parses "name/arity" (or "name/*" for variadic) into a
// MethodSignature.
func (a *asm) signature(s string) (value.MethodSignature, bool) {
	i := strings.LastIndex(s, "/")
	if i < 0 {
		a.err = fmt.Errorf("invalid method signature %q: want name/arity", s)
		return value.MethodSignature{}, false
	}
	sig := value.MethodSignature{Name: s[:i]}
	if s[i+1:] != "*" {
		sig.HasArity = true
		sig.Arity = uint16(a.uint(s[i+1:]))
	}
	return sig, a.err == nil
}

// opcodeByName maps an opcode's display name back to its Kind; built
// lazily from the bytecode package's own name table so the two can't
// drift apart.
var opcodesByName map[string]bytecode.Kind

func opcodeByName(name string) (bytecode.Kind, bool) {
	if opcodesByName == nil {
		opcodesByName = make(map[string]bytecode.Kind)
		for k := bytecode.Nop; k <= bytecode.ExitBreakableBlock; k++ {
			opcodesByName[k.String()] = k
		}
	}
	k, ok := opcodesByName[strings.ToLower(name)]
	return k, ok
}
