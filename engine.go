// Package mica implements an embeddable, dynamically-typed scripting
// language runtime: a bytecode compiler, a single-threaded stack VM, and a
// host embedding API for registering native functions, types, and traits.
//
// A front end (lexer and parser) is deliberately not part of this module —
// see ast.Builder — so Engine.Compile takes an already-built ast.Ast rather
// than source text.
package mica

import (
	"reflect"

	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/codegen"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
	"github.com/liquidev/mica/vm"
)

// Script is a compiled module, ready to run on an Engine that compiled it.
// Chunks are in-memory only: this module defines no bit-exact wire format
// for persisting one.
type Script struct {
	ModuleName string
	Chunk      *bytecode.Chunk
}

// GlobalIndex identifies an interned global variable slot, returned by
// Engine.GlobalID and consumed by Engine.Set/Get.
type GlobalIndex = bytecode.Opr24

// Engine owns one Environment (the interning tables for globals, functions,
// and method signatures, plus the builtin and host-registered dispatch
// tables) and one Fiber. Two Engines never share state; see the
// concurrency model in the package-level design notes for why a single
// Fiber per Engine is enough to support host callbacks re-entering script
// code (the trampoline in the vm package) without a separate
// fiber/scheduler layer.
type Engine struct {
	env   *env.Environment
	heap  *gc.Heap
	fiber *vm.Fiber
}

// New creates an Engine with the minimal corelib installed: dispatch
// tables for every primitive kind (list, dict and string ones carry a few
// baseline methods, the rest start empty; host code can extend any of
// them) and the Iterator trait. Use WithCorelib to layer additional
// methods onto that baseline; this module does not ship a concrete
// standard library beyond it.
func New() *Engine {
	return WithCorelib(nil)
}

// WithCorelib creates an Engine the same way New does, then calls install
// (if non-nil) with the new Engine so a host can register additional
// corelib methods on the builtin dispatch tables before any script runs.
func WithCorelib(install func(*Engine)) *Engine {
	e := env.NewEnvironment()
	eng := &Engine{env: e, heap: &gc.Heap{}}
	eng.fiber = vm.NewFiber(e)
	registerCorelib(eng)
	if install != nil {
		install(eng)
	}
	return eng
}

// Compile code-generates the Ast rooted at root into a Script. moduleName
// is stamped into diagnostics and stack traces.
func (e *Engine) Compile(moduleName string, tree *ast.Ast, root ast.NodeId) (*Script, error) {
	chunk, err := codegen.Generate(moduleName, e.env, tree, root)
	if err != nil {
		return nil, err
	}
	return &Script{ModuleName: moduleName, Chunk: chunk}, nil
}

// Start runs a compiled Script to completion on the Engine's Fiber and
// returns the value its top level left on the stack.
func (e *Engine) Start(script *Script) (value.Value, error) {
	return e.fiber.Start(script.Chunk)
}

// CompileAndStart is Compile followed immediately by Start.
func (e *Engine) CompileAndStart(moduleName string, tree *ast.Ast, root ast.NodeId) (value.Value, error) {
	script, err := e.Compile(moduleName, tree, root)
	if err != nil {
		return value.Value{}, err
	}
	return e.Start(script)
}

// Call invokes a script function value from the host, re-entering the
// Engine's Fiber through the vm package's trampoline, and converts the
// result to T.
func Call[T any](e *Engine, callee value.Value, args ...value.Value) (T, error) {
	var zero T
	result, err := e.fiber.Call(callee, args)
	if err != nil {
		return zero, err
	}
	return fromValue[T](result)
}

// CallMethod is Call's method-dispatch counterpart: receiver becomes the
// method's implicit first argument.
func CallMethod[T any](e *Engine, receiver value.Value, sig value.MethodSignature, args ...value.Value) (T, error) {
	var zero T
	idx, err := e.env.GetOrCreateMethodIndex(sig)
	if err != nil {
		return zero, err
	}
	result, err := e.fiber.CallMethod(receiver, idx, args)
	if err != nil {
		return zero, err
	}
	return fromValue[T](result)
}

// MethodID interns sig and returns its stable MethodIndex, for hosts that
// want to cache the index ahead of repeated CallMethod calls rather than
// re-resolving sig's signature every time.
func (e *Engine) MethodID(sig value.MethodSignature) (value.MethodIndex, error) {
	return e.env.GetOrCreateMethodIndex(sig)
}

// GlobalID interns (or finds) the global slot named name.
func (e *Engine) GlobalID(name string) (GlobalIndex, error) {
	if idx, ok := e.env.GetGlobal(name); ok {
		return idx, nil
	}
	return e.env.CreateGlobal(name)
}

// Set writes v into the global slot id.
func (e *Engine) Set(id GlobalIndex, v value.Value) {
	e.env.SetGlobalValue(id, v)
}

// Get reads the global slot id, converted to T.
func Get[T any](e *Engine, id GlobalIndex) (T, error) {
	return fromValue[T](e.env.GlobalValue(id))
}

// AddRawFunction registers a global foreign function that operates
// directly on value.Value, with no argument/result marshalling. arity is
// nil for a variadic function. The function is exposed to scripts as a
// global named name.
func (e *Engine) AddRawFunction(name string, arity *uint16, fn env.NativeCallable) error {
	var paramCount *uint16
	if arity != nil {
		n := *arity
		paramCount = &n
	}
	fid, err := e.env.CreateFunction(&env.Function{
		Name:           name,
		ParameterCount: paramCount,
		Kind:           env.Foreign,
		Native:         fn,
	})
	if err != nil {
		return err
	}
	return e.bindGlobalFunction(name, fid)
}

// AddFunction registers a global foreign function from an arbitrary Go
// function value, marshalling arguments and the return value the way
// TypeBuilder's methods do (see convert.go). f's parameter count becomes
// the function's arity unless f is variadic.
func (e *Engine) AddFunction(name string, f any) error {
	native, arity, err := marshalFunction(e.heap, f)
	if err != nil {
		return err
	}
	return e.AddRawFunction(name, arity, native)
}

func (e *Engine) bindGlobalFunction(name string, fid bytecode.Opr24) error {
	closure := gc.Alloc(value.Closure{Name: name, FunctionID: fid})
	gid, err := e.GlobalID(name)
	if err != nil {
		return err
	}
	e.Set(gid, value.NewFunction(closure))
	return nil
}

// AddType registers a host type built by a TypeBuilder: its instance
// dispatch table, its static (type-level) dispatch table linked to the
// instance table, and a global binding exposing the type by name so script
// code can write TypeName.new and so on.
func AddType[T any](e *Engine, tb *TypeBuilder[T]) error {
	instanceDT, typeDT, err := tb.build(e)
	if err != nil {
		return err
	}
	e.env.RegisterUserDataDtable(reflect.TypeOf((*T)(nil)), instanceDT)

	typeStruct := gc.Alloc(value.Struct{Dtable: typeDT})
	gid, err := e.GlobalID(tb.name)
	if err != nil {
		return err
	}
	e.Set(gid, value.NewStruct(typeStruct))
	return nil
}

// BuildTrait starts declaring a trait named name. Each call to the
// returned TraitBuilder's AddFunction interns a required method signature
// immediately (so its MethodIndex is available to register conforming
// types right away); TraitBuilder.Build finishes it into a Value.
func (e *Engine) BuildTrait(name string) (*TraitBuilder, error) {
	id, err := e.env.NextTraitID()
	if err != nil {
		return nil, err
	}
	return &TraitBuilder{engine: e, name: name, id: id}, nil
}

// Conforms reports whether a type built with AddType (identified by its
// instance dispatch table) satisfies every method signature a trait
// requires.
func (e *Engine) Conforms(dt *value.DispatchTable, trait *value.Trait) bool {
	return e.env.Conforms(dt, trait)
}

// Implements reports whether v's instance dispatch table satisfies trait
// (a value produced by TraitBuilder.Build). Values with no dispatch table
// at all implement nothing.
func (e *Engine) Implements(v, trait value.Value) bool {
	if trait.Kind() != value.KindTrait {
		return false
	}
	dt, _ := vm.DtableFor(e.env, v)
	if dt == nil {
		return false
	}
	return e.env.Conforms(dt, trait.AsTrait().Get())
}
