package mica

import (
	"fmt"
	"reflect"

	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

// methodEntry is one function queued on a TypeBuilder before AddType turns
// it into an interned MethodIndex and an entry in a DispatchTable. A raw
// entry (AddRawFunction/AddRawStatic) already carries its NativeCallable;
// an entry queued through AddFunction/AddStatic instead carries the
// original Go function and waits until build(e) to marshal it, since
// marshalling needs the Engine's heap to allocate string/UserData results.
type methodEntry struct {
	name    string
	arity   *uint16 // declared, script-visible arity; nil means variadic
	native  env.NativeCallable
	rawFunc any  // set instead of native when marshalling is deferred
	static  bool // rawFunc entry must drop CallMethod's receiver arg first
}

// TypeBuilder assembles the dispatch tables for a host type T exposed to
// scripts as an opaque UserData value. Instance methods are called as
// instance.name(args...); static methods (conventionally a "new"
// constructor) are called as TypeName.name(args...) and still receive a
// receiver slot — the type's own Struct value — which they're free to
// ignore.
type TypeBuilder[T any] struct {
	name      string
	instances []methodEntry
	statics   []methodEntry
}

// NewTypeBuilder starts building a host type exposed to scripts as name.
func NewTypeBuilder[T any](name string) *TypeBuilder[T] {
	return &TypeBuilder[T]{name: name}
}

// AddRawFunction queues an instance method operating directly on
// value.Value, with no argument/result marshalling. fn's args[0] is the
// receiver. arity is nil for a variadic method.
func (tb *TypeBuilder[T]) AddRawFunction(name string, arity *uint16, fn env.NativeCallable) *TypeBuilder[T] {
	tb.instances = append(tb.instances, methodEntry{name: name, arity: arity, native: fn})
	return tb
}

// AddRawStatic is AddRawFunction's static counterpart; fn still receives
// the type's receiver value as args[0], free to ignore it.
func (tb *TypeBuilder[T]) AddRawStatic(name string, arity *uint16, fn env.NativeCallable) *TypeBuilder[T] {
	tb.statics = append(tb.statics, methodEntry{name: name, arity: arity, native: fn})
	return tb
}

// AddFunction queues an instance method from an arbitrary Go function
// value whose first parameter is the receiver (*T, by convention): f(self
// *T, ...rest) (result, error). Arguments and the result are marshalled
// the way Engine.AddFunction does for plain functions, once build(e) has
// an Engine (and its heap) to marshal against.
func (tb *TypeBuilder[T]) AddFunction(name string, f any) *TypeBuilder[T] {
	ft := reflect.TypeOf(f)
	if ft == nil || ft.Kind() != reflect.Func {
		err := errs.TypeMismatchError("function", fmt.Sprintf("%T", f))
		tb.instances = append(tb.instances, methodEntry{name: name, native: failingNative(err)})
		return tb
	}
	// f's own parameter count already includes the receiver, so it equals
	// the physical arity CallMethod passes; the declared, script-visible
	// arity is one less.
	tb.instances = append(tb.instances, methodEntry{
		name:    name,
		arity:   subtractArity(funcArity(ft), 1),
		rawFunc: f,
	})
	return tb
}

// AddStatic queues a static (type-level) method from an arbitrary Go
// function value that takes no receiver parameter, e.g. func() *T for a
// "new" constructor.
func (tb *TypeBuilder[T]) AddStatic(name string, f any) *TypeBuilder[T] {
	ft := reflect.TypeOf(f)
	if ft == nil || ft.Kind() != reflect.Func {
		err := errs.TypeMismatchError("function", fmt.Sprintf("%T", f))
		tb.statics = append(tb.statics, methodEntry{name: name, native: failingNative(err)})
		return tb
	}
	// f takes no receiver, so the declared arity equals f's own parameter
	// count directly; the installed native still drops CallMethod's
	// implicit receiver argument before calling it (see build's static
	// wrapping).
	tb.statics = append(tb.statics, methodEntry{name: name, arity: funcArity(ft), rawFunc: f, static: true})
	return tb
}

// subtractArity returns *a - n, preserving a nil (variadic) arity as nil.
func subtractArity(a *uint16, n uint16) *uint16 {
	if a == nil {
		return nil
	}
	d := *a - n
	return &d
}

// addArity returns *a + n, preserving a nil (variadic) arity as nil.
func addArity(a *uint16, n uint16) *uint16 {
	if a == nil {
		return nil
	}
	s := *a + n
	return &s
}

func failingNative(err error) env.NativeCallable {
	return func(args []value.Value) (value.Value, error) {
		return value.Value{}, err
	}
}

// build interns every queued method's signature, installs its closure into
// the appropriate dispatch table, and links the type table to the instance
// table.
func (tb *TypeBuilder[T]) build(e *Engine) (instanceDT, typeDT *value.DispatchTable, err error) {
	instanceDT = value.NewDispatchTable(tb.name, value.InstanceDTable)
	typeDT = value.NewDispatchTable(tb.name, value.TypeDTable)
	typeDT.Instance = instanceDT

	if err := installMethods(e, instanceDT, tb.name, tb.instances); err != nil {
		return nil, nil, err
	}
	if err := installMethods(e, typeDT, tb.name, tb.statics); err != nil {
		return nil, nil, err
	}
	return instanceDT, typeDT, nil
}

// installMethods interns each entry's MethodSignature at its declared
// arity and records the resulting closure on dt. Every CallMethod
// invocation carries a receiver physically, whether or not the signature's
// declared arity counts it, so the installed Function's ParameterCount is
// always one more than the declared arity. An entry queued through
// AddFunction/AddStatic is marshalled here, once e.heap is available.
func installMethods(e *Engine, dt *value.DispatchTable, typeName string, entries []methodEntry) error {
	for _, m := range entries {
		native := m.native
		if native == nil && m.rawFunc != nil {
			marshalled, _, err := marshalFunction(e.heap, m.rawFunc)
			if err != nil {
				return err
			}
			if m.static {
				inner := marshalled
				marshalled = func(args []value.Value) (value.Value, error) {
					if len(args) == 0 {
						return inner(args)
					}
					return inner(args[1:])
				}
			}
			native = marshalled
		}

		sig := value.MethodSignature{Name: m.name}
		if m.arity != nil {
			sig.HasArity = true
			sig.Arity = *m.arity
		}
		idx, err := e.env.GetOrCreateMethodIndex(sig)
		if err != nil {
			return err
		}
		fn := &env.Function{
			Name:           typeName + "." + m.name,
			ParameterCount: addArity(m.arity, 1),
			Kind:           env.Foreign,
			Native:         native,
		}
		fid, err := e.env.CreateFunction(fn)
		if err != nil {
			return err
		}
		closure := gc.Alloc(value.Closure{Name: fn.Name, FunctionID: fid})
		dt.SetMethod(idx, closure)
	}
	return nil
}
