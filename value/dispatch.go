package value

import "github.com/liquidev/mica/gc"

// MethodIndex is a stable, interned index assigned by an Environment to a
// distinct MethodSignature the first time it's referenced. Dispatch tables
// store methods in a vector keyed by this index so lookup is a single slice
// access rather than a name comparison.
type MethodIndex uint32

// MethodSignature identifies a callable method by name, arity, and
// (optionally) the trait that declared it. Arity is absent for variadic
// instance functions; specific arities take precedence over a variadic
// signature of the same name during dispatch.
type MethodSignature struct {
	Name     string
	HasArity bool
	Arity    uint16
	HasTrait bool
	TraitID  uint32
}

// DTableKind distinguishes a dispatch table built for a type's static
// surface (constructors, static methods) from one built for its instances.
type DTableKind uint8

const (
	TypeDTable DTableKind = iota
	InstanceDTable
)

// DispatchTable maps MethodIndex to the closure implementing that method
// for one type (or for one type's instances). Unset slots mean "method
// absent" and cause DoesNotRespondTo at call time.
type DispatchTable struct {
	PrettyName string
	Kind       DTableKind
	Methods    []gc.Gc[Closure]

	// Instance is set only on a Type-kind dispatch table, and points at the
	// dispatch table used for that type's instances. It lets a type's
	// static constructors and its instances' methods agree on a pretty
	// name in error messages.
	Instance *DispatchTable
}

// NewDispatchTable creates an empty dispatch table.
func NewDispatchTable(prettyName string, kind DTableKind) *DispatchTable {
	return &DispatchTable{PrettyName: prettyName, Kind: kind}
}

// SetMethod installs closure as the implementation of method i, growing the
// method vector as needed.
func (d *DispatchTable) SetMethod(i MethodIndex, closure gc.Gc[Closure]) {
	if int(i) >= len(d.Methods) {
		grown := make([]gc.Gc[Closure], i+1)
		copy(grown, d.Methods)
		d.Methods = grown
	}
	d.Methods[i] = closure
}

// Method returns the closure installed at i, or the zero handle and false
// if the slot is unset or out of range.
func (d *DispatchTable) Method(i MethodIndex) (gc.Gc[Closure], bool) {
	if int(i) >= len(d.Methods) {
		return gc.Gc[Closure]{}, false
	}
	m := d.Methods[i]
	return m, m.Valid()
}
