package value

// Struct is an instance of a user-defined or builtin type: a dispatch table
// reference plus its fields in the order the declaring type laid them out.
type Struct struct {
	Dtable *DispatchTable
	Fields []Value
}

// Trait is an opaque marker plus the minimum set of methods an implementing
// type's dispatch table must provide. ID is assigned by the owning
// Environment when the trait is built.
type Trait struct {
	ID               uint32
	MethodSignatures []MethodIndex
}

// UserData is implemented by host types exposed to scripts as opaque
// values. TypeName is used in diagnostics.
type UserData interface {
	TypeName() string
}

// Finalizer is implemented by UserData values that need cleanup. The
// runtime does not call Finalize itself: neither the Engine, the heap nor
// the VM registers it with Go's collector or invokes it when a value or
// the Engine goes away.
type Finalizer interface {
	Finalize()
}
