// Package env implements the Environment: the process-wide (per-Engine)
// registry of globals, functions, interned method signatures, and builtin
// dispatch tables that the code generator and VM both consult.
package env

import (
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/value"
)

// FunctionKind distinguishes a function compiled to bytecode from one
// implemented natively by the host.
type FunctionKind uint8

const (
	Bytecode FunctionKind = iota
	Foreign
)

// NativeCallable is the signature foreign functions are invoked through:
// args[0] is the receiver for methods, the whole slice is positional
// arguments for a plain call. Errors surface to the caller as a runtime
// error tagged with the current call stack.
type NativeCallable func(args []value.Value) (value.Value, error)

// Capture describes the source of one entry in a closure's capture list:
// either a stack slot in the immediately enclosing frame, or — when a
// variable is captured through more than one level of nesting — one of the
// enclosing closure's own upvalues. See codegen's captureSource for why a
// flat set of slot numbers isn't enough to express both cases.
type Capture struct {
	FromUpvalue bool
	Index       uint32
}

// Function is an entry in an Environment's function table: either bytecode
// compiled from a script, or a foreign function supplied by the host.
type Function struct {
	Name string

	// ParameterCount is nil for a variadic function (arity checking is
	// skipped at call time).
	ParameterCount *uint16

	Kind FunctionKind

	// Chunk and Captures are populated when Kind == Bytecode.
	Chunk    *bytecode.Chunk
	Captures []Capture

	// Native is populated when Kind == Foreign.
	Native NativeCallable

	// HiddenInStackTraces marks functions (typically trampoline shims and
	// corelib plumbing) that should be elided when a traceback is rendered
	// for a script author.
	HiddenInStackTraces bool
}

// IsVariadic reports whether the function accepts any number of arguments.
func (f *Function) IsVariadic() bool {
	return f.ParameterCount == nil
}

// Arity returns the function's required argument count and whether it has
// one at all (false for variadic functions).
func (f *Function) Arity() (uint16, bool) {
	if f.ParameterCount == nil {
		return 0, false
	}
	return *f.ParameterCount, true
}
