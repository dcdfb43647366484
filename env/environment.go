package env

import (
	"reflect"

	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/value"
)

// Environment is the process-wide (per-Engine) registry the code generator
// and VM both consult: interned globals and functions, interned method
// signatures, and the builtin dispatch tables for primitive value kinds.
// Two Engines never share an Environment.
type Environment struct {
	globalNames []string
	globalIndex map[string]bytecode.Opr24
	globals     []value.Value

	functions []*Function

	methodSignatures []value.MethodSignature
	methodIndex      map[value.MethodSignature]value.MethodIndex

	// BuiltinDtables holds the instance dispatch table for each primitive
	// ValueKind (Nil, Boolean, Number, String, List, Dict, Function), used
	// by CallMethod when the receiver is neither a Struct nor UserData.
	BuiltinDtables map[value.Kind]*value.DispatchTable

	// userDataDtables maps the concrete Go type backing a UserData value
	// (e.g. *mypkg.Counter) to the instance dispatch table TypeBuilder built
	// for it. value.Kind alone can't key this the way BuiltinDtables does,
	// since every host type shares the single UserData kind.
	userDataDtables map[reflect.Type]*value.DispatchTable

	nextTraitID uint32
}

// NewEnvironment creates an empty Environment. Corelib registration (the
// builtin dispatch tables and traits) is the caller's responsibility; the
// root package's Engine does it through RegisterBuiltinDtable.
func NewEnvironment() *Environment {
	return &Environment{
		globalIndex:     make(map[string]bytecode.Opr24),
		methodIndex:     make(map[value.MethodSignature]value.MethodIndex),
		BuiltinDtables:  make(map[value.Kind]*value.DispatchTable),
		userDataDtables: make(map[reflect.Type]*value.DispatchTable),
	}
}

// RegisterUserDataDtable installs dt as the instance dispatch table for
// every UserData value whose concrete Go type is t (typically a pointer
// type, since TypeBuilder[T] allocates *T).
func (e *Environment) RegisterUserDataDtable(t reflect.Type, dt *value.DispatchTable) {
	e.userDataDtables[t] = dt
}

// DtableForUserData returns the instance dispatch table registered for the
// concrete Go type behind a UserData value, if any.
func (e *Environment) DtableForUserData(t reflect.Type) (*value.DispatchTable, bool) {
	d, ok := e.userDataDtables[t]
	return d, ok
}

// CreateGlobal interns a new global slot named name and returns its index.
// Fails with TooManyGlobals once the global table would overflow an Opr24.
func (e *Environment) CreateGlobal(name string) (bytecode.Opr24, error) {
	idx, err := bytecode.NewOpr24(uint32(len(e.globals)))
	if err != nil {
		return bytecode.Opr24{}, errs.NewCompileError(errs.TooManyGlobals, emptyLoc, "")
	}
	e.globalNames = append(e.globalNames, name)
	e.globals = append(e.globals, value.NewNil())
	e.globalIndex[name] = idx
	return idx, nil
}

// GetGlobal returns the slot index of an existing global, and whether it
// was found.
func (e *Environment) GetGlobal(name string) (bytecode.Opr24, bool) {
	idx, ok := e.globalIndex[name]
	return idx, ok
}

// GlobalValue reads the current value stored in a global slot.
func (e *Environment) GlobalValue(idx bytecode.Opr24) value.Value {
	return e.globals[idx.ToU32()]
}

// SetGlobalValue writes to a global slot.
func (e *Environment) SetGlobalValue(idx bytecode.Opr24, v value.Value) {
	e.globals[idx.ToU32()] = v
}

// GlobalName returns the name a global slot was created with.
func (e *Environment) GlobalName(idx bytecode.Opr24) string {
	return e.globalNames[idx.ToU32()]
}

// CreateFunction interns fn and returns its function id. Fails with
// TooManyFunctions once the function table would overflow an Opr24.
func (e *Environment) CreateFunction(fn *Function) (bytecode.Opr24, error) {
	idx, err := bytecode.NewOpr24(uint32(len(e.functions)))
	if err != nil {
		return bytecode.Opr24{}, errs.NewCompileError(errs.TooManyFunctions, emptyLoc, "")
	}
	e.functions = append(e.functions, fn)
	return idx, nil
}

// Function returns the function recorded under id.
func (e *Environment) Function(id bytecode.Opr24) *Function {
	return e.functions[id.ToU32()]
}

// NumFunctions returns how many functions have been interned so far.
func (e *Environment) NumFunctions() int {
	return len(e.functions)
}

// GetOrCreateMethodIndex interns sig, returning the same MethodIndex for
// identical signatures and a fresh one otherwise. Fails with TooManyMethods
// once the method table would overflow an Opr24.
func (e *Environment) GetOrCreateMethodIndex(sig value.MethodSignature) (value.MethodIndex, error) {
	if idx, ok := e.methodIndex[sig]; ok {
		return idx, nil
	}
	if len(e.methodSignatures) > bytecode.Opr24Max {
		return 0, errs.NewCompileError(errs.TooManyMethods, emptyLoc, "")
	}
	idx := value.MethodIndex(len(e.methodSignatures))
	e.methodSignatures = append(e.methodSignatures, sig)
	e.methodIndex[sig] = idx
	return idx, nil
}

// FindMethodIndex looks up sig without interning it, for the VM's runtime
// variadic-fallback dispatch step: a signature that was never
// registered by any TypeBuilder simply isn't a valid fallback target, and
// interning one on a failed dispatch would let dead script code grow the
// method table.
func (e *Environment) FindMethodIndex(sig value.MethodSignature) (value.MethodIndex, bool) {
	idx, ok := e.methodIndex[sig]
	return idx, ok
}

// MethodSignatureAt returns the signature interned at idx.
func (e *Environment) MethodSignatureAt(idx value.MethodIndex) value.MethodSignature {
	return e.methodSignatures[idx]
}

// NextTraitID allocates a fresh trait identifier. Fails with TooManyTraits
// once the 32-bit identifier space is exhausted, which in practice never
// happens; the check exists so the contract matches the rest of the
// interning surface.
func (e *Environment) NextTraitID() (uint32, error) {
	if e.nextTraitID == ^uint32(0) {
		return 0, errs.NewCompileError(errs.TooManyTraits, emptyLoc, "")
	}
	id := e.nextTraitID
	e.nextTraitID++
	return id, nil
}

// DtableFor returns the instance dispatch table registered for k, if any.
// Structs carry their own dtable and don't go through this path.
func (e *Environment) DtableFor(k value.Kind) (*value.DispatchTable, bool) {
	d, ok := e.BuiltinDtables[k]
	return d, ok
}

// emptyLoc is used for interning failures that aren't attached to a
// specific AST node (the caller — codegen — normally has a real location
// and constructs its own errs.CompileError instead of using the ones
// returned from here verbatim).
var emptyLoc = ast.Location{}
