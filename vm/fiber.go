// Package vm implements the bytecode interpreter: a Fiber executes a
// Chunk's instructions against a value stack and a call-frame stack, using
// an Environment to resolve globals, functions, and method dispatch.
package vm

import (
	"reflect"

	"golang.org/x/exp/slices"

	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

// DefaultStackSize is the number of value slots a Fiber preallocates. The
// stack is never reallocated after creation: open upvalues alias Go
// pointers directly into it (see value.Upvalue), and a slice growth that
// moved the backing array would silently invalidate every open upvalue.
// Running past this depth raises StackOverflow rather than growing.
const DefaultStackSize = 4096

// frame is one call's activation record.
type frame struct {
	chunk        *bytecode.Chunk
	ip           int
	bp           int
	closure      *value.Closure
	functionName string

	// retSlot is the absolute stack index the frame's return value lands
	// in when it unwinds. For a plain Call this is the callee's own slot
	// (one below bp); for a CallMethod there is no callee slot on the
	// stack, so the receiver's slot (bp itself) is reused instead.
	retSlot int

	// breakableBase is the depth of the fiber's breakable-block stack when
	// this frame was pushed, restored on unwind so a frame that errors out
	// of a loop doesn't leak saved block heights into its caller.
	breakableBase int

	// hidden mirrors env.Function.HiddenInStackTraces, copied in at call
	// time so a trampoline's synthetic frame can be elided from tracebacks.
	hidden bool
}

type openUpvalue struct {
	absIndex int
	uv       *value.Upvalue
}

// Fiber is one logical thread of script execution: a value stack, a
// call-frame stack, and the set of currently-open upvalues aliasing live
// stack slots. Fibers are not safe for concurrent use — see the
// concurrency model in the package-level design notes: Mica is
// single-threaded, cooperative, and a foreign function may re-enter the
// same Fiber's owning Engine via the trampoline but never runs in
// parallel with it.
type Fiber struct {
	env *env.Environment

	stack []value.Value
	sp    int

	frames []frame

	openUpvalues []openUpvalue

	// breakables holds the stack height recorded by each executed
	// EnterBreakableBlock, innermost last; ExitBreakableBlock(n) truncates
	// the stack back to the n-th enclosing entry while preserving the
	// block's result value on top.
	breakables []int
}

// NewFiber creates a fiber with a preallocated stack of DefaultStackSize
// slots.
func NewFiber(e *env.Environment) *Fiber {
	return NewFiberSize(e, DefaultStackSize)
}

// NewFiberSize creates a fiber with a preallocated stack of n slots; n <= 0
// falls back to DefaultStackSize.
func NewFiberSize(e *env.Environment, n int) *Fiber {
	if n <= 0 {
		n = DefaultStackSize
	}
	return &Fiber{
		env:   e,
		stack: make([]value.Value, n),
	}
}

func (f *Fiber) push(v value.Value) error {
	if f.sp >= len(f.stack) {
		return errs.NewRuntimeError(errs.StackOverflow, "")
	}
	f.stack[f.sp] = v
	f.sp++
	return nil
}

func (f *Fiber) pop() value.Value {
	f.sp--
	return f.stack[f.sp]
}

// findOrOpenUpvalue returns the existing open upvalue aliasing absolute
// stack index idx, creating and registering one if none exists yet. The
// open list stays sorted by absIndex so repeated captures of the same slot
// from sibling closures are O(log n) to find.
func (f *Fiber) findOrOpenUpvalue(idx int) *value.Upvalue {
	i, found := slices.BinarySearchFunc(f.openUpvalues, idx, func(e openUpvalue, target int) int {
		return e.absIndex - target
	})
	if found {
		return f.openUpvalues[i].uv
	}
	uv := value.OpenUpvalue(&f.stack[idx])
	f.openUpvalues = slices.Insert(f.openUpvalues, i, openUpvalue{absIndex: idx, uv: uv})
	return uv
}

// closeUpvaluesFrom closes every open upvalue whose aliased slot is at or
// past bp (the frame that is unwinding), and drops them from the open list.
func (f *Fiber) closeUpvaluesFrom(bp int) {
	i, _ := slices.BinarySearchFunc(f.openUpvalues, bp, func(e openUpvalue, target int) int {
		return e.absIndex - target
	})
	for j := i; j < len(f.openUpvalues); j++ {
		f.openUpvalues[j].uv.Close()
	}
	f.openUpvalues = f.openUpvalues[:i]
}

// currentFrame returns the topmost (currently executing) frame.
func (f *Fiber) currentFrame() *frame {
	return &f.frames[len(f.frames)-1]
}

// StackTrace snapshots the call stack, innermost frame first, for
// embedding in a RuntimeError.
func (f *Fiber) StackTrace() []errs.StackFrame {
	trace := make([]errs.StackFrame, 0, len(f.frames))
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		if fr.hidden {
			continue
		}
		trace = append(trace, errs.StackFrame{
			Location:     fr.chunk.LocationAt(fr.ip),
			FunctionName: fr.functionName,
		})
	}
	return trace
}

func (f *Fiber) peek() value.Value {
	return f.stack[f.sp-1]
}

// pushFrame installs a new frame at the current stack pointer: bp is set to
// the index of a0 (so GetLocal(0) reaches the first parameter or, for a
// method dispatch, the receiver), and PreallocateStackSlots worth of
// locals beyond the parameters already on the stack are reserved and
// zeroed. paramCount is how many of those values, starting at bp, the
// caller already pushed (args for Call, receiver+args for CallMethod).
// retSlot is where the frame's return value lands when it unwinds — the
// callee's slot for a Call, the receiver's for a CallMethod.
func (f *Fiber) pushFrame(chunk *bytecode.Chunk, closure *value.Closure, functionName string, hidden bool, bp, paramCount, retSlot int) error {
	total := paramCount + int(chunk.PreallocateStackSlots)
	if bp+total > len(f.stack) {
		return errs.NewRuntimeError(errs.StackOverflow, "")
	}
	for i := paramCount; i < total; i++ {
		f.stack[bp+i] = value.NewNil()
	}
	f.sp = bp + total
	f.frames = append(f.frames, frame{
		chunk:         chunk,
		bp:            bp,
		closure:       closure,
		functionName:  functionName,
		retSlot:       retSlot,
		breakableBase: len(f.breakables),
		hidden:        hidden,
	})
	return nil
}

// DtableFor resolves the dispatch table that answers a CallMethod against
// receiver: a struct's own dtable (shared by its type's static surface and
// its instances alike), the reflect-keyed table TypeBuilder registered for
// a host UserData type, or one of Environment's builtin tables for
// everything else. The returned name is the receiver's pretty type name
// for diagnostics; the dtable may be nil when the receiver has none.
func DtableFor(e *env.Environment, receiver value.Value) (*value.DispatchTable, string) {
	switch receiver.Kind() {
	case value.KindStruct:
		dt := receiver.AsStruct().Get().Dtable
		return dt, dt.PrettyName
	case value.KindUserData:
		data := *receiver.AsUserData().Get()
		dt, ok := e.DtableForUserData(reflect.TypeOf(data))
		if !ok {
			return nil, data.TypeName()
		}
		return dt, data.TypeName()
	default:
		dt, _ := e.DtableFor(receiver.Kind())
		return dt, receiver.Kind().String()
	}
}

// dispatch resolves (dt, sig) to a closure: an exact (name, arity) match,
// else the variadic signature for that name, else DoesNotRespondTo.
func (f *Fiber) dispatch(dt *value.DispatchTable, typeName string, methodIndex value.MethodIndex) (gc.Gc[value.Closure], error) {
	sig := f.env.MethodSignatureAt(methodIndex)
	if dt != nil {
		if closure, ok := dt.Method(methodIndex); ok {
			return closure, nil
		}
		if sig.HasArity {
			if variadicIdx, ok := f.env.FindMethodIndex(value.MethodSignature{Name: sig.Name}); ok {
				if closure, ok := dt.Method(variadicIdx); ok {
					return closure, nil
				}
			}
		}
	}
	arity := 0
	if sig.HasArity {
		arity = int(sig.Arity)
	}
	return gc.Gc[value.Closure]{}, errs.DoesNotRespondToError(typeName, sig.Name, arity)
}

// invoke dispatches a call to a resolved closure: a Bytecode closure pushes
// a new frame and returns (pushed=true) so run's loop picks it up next
// iteration; a Foreign closure is invoked immediately in place, its result
// written to retSlot the same way a Bytecode frame's Return would.
func (f *Fiber) invoke(closureHandle gc.Gc[value.Closure], bp, argc, retSlot int) (pushed bool, err error) {
	closure := closureHandle.Get()
	fn := f.env.Function(closure.FunctionID)
	if n, ok := fn.Arity(); ok && int(n) != argc {
		return false, errs.ArgumentCountError(int(n), argc)
	}
	switch fn.Kind {
	case env.Bytecode:
		if err := f.pushFrame(fn.Chunk, closure, fn.Name, fn.HiddenInStackTraces, bp, argc, retSlot); err != nil {
			return false, err
		}
		return true, nil
	case env.Foreign:
		args := make([]value.Value, argc)
		copy(args, f.stack[bp:bp+argc])
		result, err := fn.Native(args)
		if err != nil {
			return false, err
		}
		f.sp = retSlot
		if err := f.push(result); err != nil {
			return false, err
		}
		return false, nil
	default:
		panic("vm: corrupt function kind")
	}
}

// run executes instructions from the current frame until the frame stack
// depth returns to targetDepth, returning the value left on the stack by
// whichever Halt or Return retired the frame at targetDepth+1. The caller
// is responsible for having already pushed that frame (or a synthetic
// trampoline frame, for host-initiated calls) before calling run; this is
// what lets a foreign function call back into the engine (nested run on
// the same Fiber) without recursion on the Go call stack doing anything
// unsafe — the inner run simply stops at a deeper targetDepth and returns
// control to the native function, which returns control to the outer run.
func (f *Fiber) run(targetDepth int) (value.Value, error) {
	base := f.frames[targetDepth]

	raise := func(err error) (value.Value, error) {
		rerr, ok := err.(*errs.RuntimeError)
		if !ok {
			rerr = errs.NewRuntimeError(errs.TypeMismatch, "%s", err.Error())
		}
		if rerr.StackTrace == nil {
			rerr.StackTrace = f.StackTrace()
		}
		f.closeUpvaluesFrom(base.bp)
		f.sp = base.retSlot
		f.breakables = f.breakables[:base.breakableBase]
		f.frames = f.frames[:targetDepth]
		return value.Value{}, rerr
	}

	for len(f.frames) > targetDepth {
		fr := f.currentFrame()
		kind, operand, num, str, next := fr.chunk.DecodeAt(fr.ip)
		fr.ip = next

		switch kind {
		case bytecode.Nop:

		case bytecode.PushNil:
			if err := f.push(value.NewNil()); err != nil {
				return raise(err)
			}
		case bytecode.PushTrue:
			if err := f.push(value.NewBoolean(true)); err != nil {
				return raise(err)
			}
		case bytecode.PushFalse:
			if err := f.push(value.NewBoolean(false)); err != nil {
				return raise(err)
			}
		case bytecode.PushNumber:
			if err := f.push(value.NewNumber(num)); err != nil {
				return raise(err)
			}
		case bytecode.PushString:
			if err := f.push(value.NewString(gc.Alloc(str))); err != nil {
				return raise(err)
			}

		case bytecode.GetLocal:
			if err := f.push(f.stack[fr.bp+int(operand.ToU32())]); err != nil {
				return raise(err)
			}
		case bytecode.AssignLocal:
			f.stack[fr.bp+int(operand.ToU32())] = f.peek()
		case bytecode.GetGlobal:
			if err := f.push(f.env.GlobalValue(operand)); err != nil {
				return raise(err)
			}
		case bytecode.AssignGlobal:
			f.env.SetGlobalValue(operand, f.peek())
		case bytecode.GetUpvalue:
			if err := f.push(fr.closure.Captures[operand.ToU32()].Get()); err != nil {
				return raise(err)
			}
		case bytecode.AssignUpvalue:
			fr.closure.Captures[operand.ToU32()].Set(f.peek())

		case bytecode.Discard:
			f.sp--
		case bytecode.Swap:
			f.stack[f.sp-1], f.stack[f.sp-2] = f.stack[f.sp-2], f.stack[f.sp-1]

		case bytecode.Negate:
			x := f.pop()
			if x.Kind() != value.KindNumber {
				return raise(errs.TypeMismatchError("number", x.Kind().String()))
			}
			if err := f.push(value.NewNumber(-x.AsNumber())); err != nil {
				return raise(err)
			}
		case bytecode.Not:
			x := f.pop()
			if err := f.push(value.NewBoolean(!x.IsTruthy())); err != nil {
				return raise(err)
			}

		case bytecode.Add, bytecode.Subtract, bytecode.Multiply, bytecode.Divide:
			y := f.pop()
			x := f.pop()
			if x.Kind() != value.KindNumber {
				return raise(errs.TypeMismatchError("number", x.Kind().String()))
			}
			if y.Kind() != value.KindNumber {
				return raise(errs.TypeMismatchError("number", y.Kind().String()))
			}
			var z float64
			switch kind {
			case bytecode.Add:
				z = x.AsNumber() + y.AsNumber()
			case bytecode.Subtract:
				z = x.AsNumber() - y.AsNumber()
			case bytecode.Multiply:
				z = x.AsNumber() * y.AsNumber()
			case bytecode.Divide:
				z = x.AsNumber() / y.AsNumber()
			}
			if err := f.push(value.NewNumber(z)); err != nil {
				return raise(err)
			}

		case bytecode.Equal:
			y := f.pop()
			x := f.pop()
			if err := f.push(value.NewBoolean(x.Equal(y))); err != nil {
				return raise(err)
			}
		case bytecode.Less, bytecode.LessEqual:
			y := f.pop()
			x := f.pop()
			if x.Kind() != value.KindNumber {
				return raise(errs.TypeMismatchError("number", x.Kind().String()))
			}
			if y.Kind() != value.KindNumber {
				return raise(errs.TypeMismatchError("number", y.Kind().String()))
			}
			var ok bool
			if kind == bytecode.Less {
				ok = x.AsNumber() < y.AsNumber()
			} else {
				ok = x.AsNumber() <= y.AsNumber()
			}
			if err := f.push(value.NewBoolean(ok)); err != nil {
				return raise(err)
			}

		case bytecode.JumpForward, bytecode.JumpBackward:
			fr.ip = int(operand.ToU32())
		case bytecode.JumpForwardIfFalsy:
			if !f.peek().IsTruthy() {
				fr.ip = int(operand.ToU32())
			}
		case bytecode.JumpForwardIfTruthy:
			if f.peek().IsTruthy() {
				fr.ip = int(operand.ToU32())
			}

		case bytecode.EnterBreakableBlock:
			f.breakables = append(f.breakables, f.sp)
		case bytecode.ExitBreakableBlock:
			// A break site may jump here from arbitrarily deep in an
			// expression, leaving temporaries between the block's entry
			// height and the break value on top; truncate them away while
			// keeping the value.
			n := int(operand.ToU32())
			result := f.pop()
			height := f.breakables[len(f.breakables)-n]
			f.breakables = f.breakables[:len(f.breakables)-n]
			f.sp = height
			if err := f.push(result); err != nil {
				return raise(err)
			}

		case bytecode.CreateClosure:
			fn := f.env.Function(operand)
			captures := make([]*value.Upvalue, len(fn.Captures))
			for i, cap := range fn.Captures {
				if cap.FromUpvalue {
					captures[i] = fr.closure.Captures[cap.Index]
				} else {
					captures[i] = f.findOrOpenUpvalue(fr.bp + int(cap.Index))
				}
			}
			closure := gc.Alloc(value.Closure{Name: fn.Name, FunctionID: operand, Captures: captures})
			if err := f.push(value.NewFunction(closure)); err != nil {
				return raise(err)
			}

		case bytecode.Call:
			argc := int(operand.ToU32())
			calleeIndex := f.sp - argc - 1
			callee := f.stack[calleeIndex]
			if callee.Kind() != value.KindFunction {
				return raise(errs.TypeMismatchError("function", callee.Kind().String()))
			}
			pushed, err := f.invoke(callee.AsFunction(), calleeIndex+1, argc, calleeIndex)
			if err != nil {
				return raise(err)
			}
			_ = pushed // next loop iteration picks up the new frame, if any

		case bytecode.CallMethod:
			methodIndex, argcU := operand.Unpack(8)
			argc := int(argcU)
			receiverIndex := f.sp - argc - 1
			receiver := f.stack[receiverIndex]
			dt, typeName := DtableFor(f.env, receiver)
			closure, err := f.dispatch(dt, typeName, value.MethodIndex(methodIndex))
			if err != nil {
				return raise(err)
			}
			if _, err := f.invoke(closure, receiverIndex, argc+1, receiverIndex); err != nil {
				return raise(err)
			}

		case bytecode.Return:
			retVal := f.pop()
			f.closeUpvaluesFrom(fr.bp)
			f.sp = fr.retSlot
			f.breakables = f.breakables[:fr.breakableBase]
			f.frames = f.frames[:len(f.frames)-1]
			if err := f.push(retVal); err != nil {
				return raise(err)
			}
			if len(f.frames) == targetDepth {
				return retVal, nil
			}

		case bytecode.Halt:
			result := f.pop()
			f.closeUpvaluesFrom(fr.bp)
			f.sp = fr.retSlot
			f.breakables = f.breakables[:fr.breakableBase]
			f.frames = f.frames[:len(f.frames)-1]
			return result, nil

		default:
			panic("vm: unhandled opcode " + kind.String())
		}
	}
	panic("vm: run fell through without a matching Return/Halt at targetDepth")
}

// Start pushes the module-level frame for chunk (which Generate terminates
// with Halt) and runs it to completion. Used by Engine's compile-and-run
// entry points, once per script; one Fiber can run several scripts in turn.
func (f *Fiber) Start(chunk *bytecode.Chunk) (value.Value, error) {
	bp := f.sp
	if err := f.pushFrame(chunk, nil, "<module>", false, bp, 0, bp); err != nil {
		return value.Value{}, err
	}
	return f.run(len(f.frames) - 1)
}

// trampolineChunk builds the one-instruction-plus-Halt synthetic chunk a
// host-initiated call runs through.
func trampolineChunk(kind bytecode.Kind, operand bytecode.Opr24) *bytecode.Chunk {
	c := bytecode.NewChunk("<trampoline>")
	c.PushOperand(kind, operand)
	c.Push(bytecode.Halt)
	return c
}

// Call is the host-reentrant trampoline for invoking a script function
// value from Go: it pushes callee and args, drives a synthetic
// Call-then-Halt frame to completion, and returns the result. Safe to call
// from inside a foreign function that is itself being invoked by this same
// Fiber: host and script frames interleave on one Fiber, each nested Call
// running its own run loop on the Go call stack until its trampoline frame
// halts.
func (f *Fiber) Call(callee value.Value, args []value.Value) (value.Value, error) {
	spBefore := f.sp
	if err := f.push(callee); err != nil {
		return value.Value{}, err
	}
	for _, a := range args {
		if err := f.push(a); err != nil {
			return value.Value{}, err
		}
	}
	argc, err := bytecode.NewOpr24(uint32(len(args)))
	if err != nil {
		return value.Value{}, errs.NewCompileError(errs.TooManyArguments, ast.Location{}, "")
	}
	targetDepth := len(f.frames)
	if err := f.pushFrame(trampolineChunk(bytecode.Call, argc), nil, "<call>", true, f.sp, 0, spBefore); err != nil {
		return value.Value{}, err
	}
	return f.run(targetDepth)
}

// CallMethod is the trampoline counterpart of Call for method dispatch:
// receiver becomes CallMethod's implicit argument 0.
func (f *Fiber) CallMethod(receiver value.Value, methodIndex value.MethodIndex, args []value.Value) (value.Value, error) {
	spBefore := f.sp
	if err := f.push(receiver); err != nil {
		return value.Value{}, err
	}
	for _, a := range args {
		if err := f.push(a); err != nil {
			return value.Value{}, err
		}
	}
	operand, err := bytecode.PackOpr24(uint32(methodIndex), 16, uint32(len(args)), 8)
	if err != nil {
		return value.Value{}, errs.NewCompileError(errs.TooManyArguments, ast.Location{}, "")
	}
	targetDepth := len(f.frames)
	if err := f.pushFrame(trampolineChunk(bytecode.CallMethod, operand), nil, "<call_method>", true, f.sp, 0, spBefore); err != nil {
		return value.Value{}, err
	}
	return f.run(targetDepth)
}
