package env

import "github.com/liquidev/mica/value"

// RegisterBuiltinDtable installs dt as the instance dispatch table for
// primitive kind k (Nil, Boolean, Number, String, List, Dict, Function).
// Structs get their own per-type dtable instead of going through this
// table; see value.Struct.Dtable.
func (e *Environment) RegisterBuiltinDtable(k value.Kind, dt *value.DispatchTable) {
	e.BuiltinDtables[k] = dt
}

// Conforms reports whether dt provides every method a trait t requires. A
// requirement is satisfied either at the trait-tagged method index itself,
// or at the plain (untagged) index for the same name and arity — the index
// ordinary TypeBuilder registration and script-side method calls intern
// under — so a type doesn't have to know about a trait to satisfy it.
func (e *Environment) Conforms(dt *value.DispatchTable, t *value.Trait) bool {
	for _, idx := range t.MethodSignatures {
		if _, ok := dt.Method(idx); ok {
			continue
		}
		sig := e.MethodSignatureAt(idx)
		plain := value.MethodSignature{Name: sig.Name, HasArity: sig.HasArity, Arity: sig.Arity}
		pidx, ok := e.FindMethodIndex(plain)
		if !ok {
			return false
		}
		if _, ok := dt.Method(pidx); !ok {
			return false
		}
	}
	return true
}
