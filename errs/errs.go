// Package errs defines the error kinds and the two top-level error
// categories (compile-time and runtime) that every other package in this
// module reports through, so that a host embedding the engine gets a
// single, consistent error taxonomy regardless of which stage failed.
package errs

import (
	"fmt"
	"strings"

	"github.com/liquidev/mica/ast"
)

// Kind identifies what went wrong, independent of whether it happened at
// compile time or run time (some kinds, like TooManyLocals, can only occur
// at compile time; others, like DoesNotRespondTo, only at run time; the
// type itself does not enforce that split).
type Kind uint8

const (
	// Resource-exhaustion kinds: something interned or counted outgrew the
	// table or operand field that holds it (for most, an Opr24 of 2^24
	// entries).
	TooManyGlobals Kind = iota
	TooManyFunctions
	TooManyMethods
	TooManyTraits
	TooManyLocals
	TooManyCaptures
	TooManyParameters
	TooManyArguments
	TooManyParametersInTraitMethod

	// Compile-time semantic errors.
	VariableDoesNotExist
	BreakOutsideOfLoop
	JumpTooLarge
	IfBranchTooLarge
	IfExpressionTooLarge
	LoopTooLarge
	OperatorRhsTooLarge

	// Runtime errors.
	TypeMismatch
	ArgumentCount
	DoesNotRespondTo
	StackOverflow
)

var kindNames = [...]string{
	TooManyGlobals:                  "too many globals",
	TooManyFunctions:                "too many functions",
	TooManyMethods:                  "too many methods",
	TooManyTraits:                   "too many traits",
	TooManyLocals:                   "too many locals",
	TooManyCaptures:                 "too many captures",
	TooManyParameters:               "too many parameters",
	TooManyArguments:                "too many arguments",
	TooManyParametersInTraitMethod:  "too many parameters in trait method",
	VariableDoesNotExist:            "variable does not exist",
	BreakOutsideOfLoop:              "break outside of loop",
	JumpTooLarge:                    "jump too large",
	IfBranchTooLarge:                "if branch too large",
	IfExpressionTooLarge:            "if expression too large",
	LoopTooLarge:                    "loop body too large",
	OperatorRhsTooLarge:             "operator right-hand side too large",
	TypeMismatch:                    "type mismatch",
	ArgumentCount:                   "wrong number of arguments",
	DoesNotRespondTo:                "does not respond to",
	StackOverflow:                   "stack overflow",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("unknown error kind (%d)", k)
}

// Error lets a bare Kind stand in as a sentinel error where a location
// isn't available yet (e.g. deep inside codegen's locals bookkeeping); the
// caller that does have a location wraps it into a CompileError.
func (k Kind) Error() string { return k.String() }

// CompileError is produced by the parser (out of scope here) or the code
// generator: a Kind plus the source location of the AST node that caused
// it, and an optional human-readable detail (e.g. the missing variable's
// name, or the expected/got type names for a compile-time type check).
type CompileError struct {
	Kind     Kind
	Location ast.Location
	Detail   string
}

func (e *CompileError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Location.ModuleName, e.Location.Line, e.Location.Column, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Location.ModuleName, e.Location.Line, e.Location.Column, e.Kind)
}

// NewCompileError constructs a CompileError, optionally formatting a detail
// string.
func NewCompileError(kind Kind, loc ast.Location, detailFormat string, args ...any) *CompileError {
	e := &CompileError{Kind: kind, Location: loc}
	if detailFormat != "" {
		e.Detail = fmt.Sprintf(detailFormat, args...)
	}
	return e
}

// StackFrame is one entry of a RuntimeError's stack trace: the location of
// the instruction that was executing in that frame, and the name of the
// function owning it.
type StackFrame struct {
	Location     ast.Location
	FunctionName string
}

// RuntimeError is produced by the VM or by a foreign function: a Kind, an
// optional detail, and the full call-stack at the moment of failure
// (innermost frame first).
type RuntimeError struct {
	Kind       Kind
	Detail     string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	if e.Detail != "" {
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.Detail)
	} else {
		fmt.Fprintf(&b, "%s", e.Kind)
	}
	for _, f := range e.StackTrace {
		fmt.Fprintf(&b, "\n  at %s (%s:%d:%d)", f.FunctionName, f.Location.ModuleName, f.Location.Line, f.Location.Column)
	}
	return b.String()
}

// NewRuntimeError constructs a RuntimeError with no stack trace attached
// yet; the VM fills StackTrace in as the error unwinds through frames.
func NewRuntimeError(kind Kind, detailFormat string, args ...any) *RuntimeError {
	e := &RuntimeError{Kind: kind}
	if detailFormat != "" {
		e.Detail = fmt.Sprintf(detailFormat, args...)
	}
	return e
}

// TypeMismatchError builds the standard TypeMismatch detail string quoting
// expected and got type names.
func TypeMismatchError(expected, got string) *RuntimeError {
	return NewRuntimeError(TypeMismatch, "expected %s, got %s", expected, got)
}

// ArgumentCountError builds the standard ArgumentCount detail string.
func ArgumentCountError(expected, got int) *RuntimeError {
	return NewRuntimeError(ArgumentCount, "expected %d argument(s), got %d", expected, got)
}

// DoesNotRespondToError builds the standard DoesNotRespondTo detail string
// quoting the receiver type name and method signature.
func DoesNotRespondToError(typeName, method string, arity int) *RuntimeError {
	return NewRuntimeError(DoesNotRespondTo, "%s does not respond to %s/%d", typeName, method, arity)
}
