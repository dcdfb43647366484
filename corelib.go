package mica

import (
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

// registerCorelib installs the baseline every Engine starts with: an
// (initially small) instance dispatch table for each primitive kind, and
// the Iterator trait every host-registered sequence type is expected to
// implement to participate in a for-in construct (out of scope here, but
// the trait itself is part of the baseline a host builds against). A host
// embedding the engine extends these tables further via WithCorelib; this
// module does not attempt to ship the rest of a general-purpose standard
// library.
func registerCorelib(e *Engine) {
	registerKind(e, value.KindList, "list", listMethods())
	registerKind(e, value.KindDict, "dict", dictMethods())
	registerKind(e, value.KindString, "string", stringMethods())
	registerKind(e, value.KindNumber, "number", nil)
	registerKind(e, value.KindBoolean, "boolean", nil)
	registerKind(e, value.KindNil, "nil", nil)
	registerKind(e, value.KindFunction, "function", nil)

	registerIteratorTrait(e)
}

// rawMethod is a corelib method before it's interned and installed: same
// shape as TypeBuilder's methodEntry, but registerKind installs it into an
// Environment's BuiltinDtables rather than a per-type dispatch table, since
// primitive kinds share one table per Kind rather than one per host type.
type rawMethod struct {
	name  string
	arity *uint16
	fn    env.NativeCallable
}

func arity(n uint16) *uint16 { return &n }

func must(err error) {
	if err != nil {
		panic("mica: corelib bootstrap: " + err.Error())
	}
}

func registerKind(e *Engine, k value.Kind, prettyName string, methods []rawMethod) {
	dt := value.NewDispatchTable(prettyName, value.InstanceDTable)
	for _, m := range methods {
		sig := value.MethodSignature{Name: m.name}
		if m.arity != nil {
			sig.HasArity = true
			sig.Arity = *m.arity
		}
		idx, err := e.env.GetOrCreateMethodIndex(sig)
		must(err)
		fn := &env.Function{
			Name:           prettyName + "." + m.name,
			ParameterCount: addArity(m.arity, 1),
			Kind:           env.Foreign,
			Native:         m.fn,
		}
		fid, err := e.env.CreateFunction(fn)
		must(err)
		closure := gc.Alloc(value.Closure{Name: fn.Name, FunctionID: fid})
		dt.SetMethod(idx, closure)
	}
	e.env.RegisterBuiltinDtable(k, dt)
}

func listMethods() []rawMethod {
	return []rawMethod{
		{name: "push", arity: arity(1), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindList {
				return value.Value{}, errs.TypeMismatchError("list", receiver.Kind().String())
			}
			receiver.AsList().Get().Push(args[1])
			return receiver, nil
		}},
		{name: "get", arity: arity(1), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindList {
				return value.Value{}, errs.TypeMismatchError("list", receiver.Kind().String())
			}
			if args[1].Kind() != value.KindNumber {
				return value.Value{}, errs.TypeMismatchError("number", args[1].Kind().String())
			}
			v, ok := receiver.AsList().Get().Get(int(args[1].AsNumber()))
			if !ok {
				return value.NewNil(), nil
			}
			return v, nil
		}},
		{name: "len", arity: arity(0), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindList {
				return value.Value{}, errs.TypeMismatchError("list", receiver.Kind().String())
			}
			return value.NewNumber(float64(receiver.AsList().Get().Len())), nil
		}},
	}
}

func dictMethods() []rawMethod {
	return []rawMethod{
		{name: "get", arity: arity(1), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindDict {
				return value.Value{}, errs.TypeMismatchError("dict", receiver.Kind().String())
			}
			v, ok := receiver.AsDict().Get().Get(args[1])
			if !ok {
				return value.NewNil(), nil
			}
			return v, nil
		}},
		{name: "set", arity: arity(2), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindDict {
				return value.Value{}, errs.TypeMismatchError("dict", receiver.Kind().String())
			}
			receiver.AsDict().Get().Set(args[1], args[2])
			return receiver, nil
		}},
		{name: "len", arity: arity(0), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindDict {
				return value.Value{}, errs.TypeMismatchError("dict", receiver.Kind().String())
			}
			return value.NewNumber(float64(receiver.AsDict().Get().Len())), nil
		}},
	}
}

func stringMethods() []rawMethod {
	return []rawMethod{
		{name: "len", arity: arity(0), fn: func(args []value.Value) (value.Value, error) {
			receiver := args[0]
			if receiver.Kind() != value.KindString {
				return value.Value{}, errs.TypeMismatchError("string", receiver.Kind().String())
			}
			return value.NewNumber(float64(len(*receiver.AsString().Get()))), nil
		}},
	}
}

// registerIteratorTrait builds the minimal Iterator trait and exposes it
// as the global "Iterator" so host code can check Engine.Conforms against
// a registered type's instance dispatch table.
func registerIteratorTrait(e *Engine) {
	tb, err := e.BuildTrait("Iterator")
	must(err)
	_, err = tb.AddFunction("hasNext", 0)
	must(err)
	_, err = tb.AddFunction("next", 0)
	must(err)

	gid, err := e.GlobalID("Iterator")
	must(err)
	e.Set(gid, tb.Build())
}
