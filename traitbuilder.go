package mica

import (
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

// TraitBuilder declares the method signatures a trait requires. Obtain one
// from Engine.BuildTrait; each AddFunction call interns its signature
// immediately against the trait's own ID, so the returned MethodIndex can
// be used to register a conforming type's dispatch table right away,
// before the trait itself is finished with Build.
type TraitBuilder struct {
	engine *Engine
	name   string
	id     uint32

	signatures []value.MethodSignature
	indices    []value.MethodIndex
}

// AddFunction declares a required method name/arity and returns its
// interned MethodIndex.
func (tb *TraitBuilder) AddFunction(name string, arity uint16) (value.MethodIndex, error) {
	sig := value.MethodSignature{Name: name, HasArity: true, Arity: arity, HasTrait: true, TraitID: tb.id}
	idx, err := tb.engine.env.GetOrCreateMethodIndex(sig)
	if err != nil {
		return 0, err
	}
	tb.signatures = append(tb.signatures, sig)
	tb.indices = append(tb.indices, idx)
	return idx, nil
}

// Build finishes the trait and returns the Value script code and
// Engine.Conforms see it as.
func (tb *TraitBuilder) Build() value.Value {
	trait := value.Trait{ID: tb.id, MethodSignatures: append([]value.MethodIndex(nil), tb.indices...)}
	return value.NewTrait(gc.Alloc(trait))
}
