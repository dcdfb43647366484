package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

func sig(name string, arity uint16) value.MethodSignature {
	return value.MethodSignature{Name: name, HasArity: true, Arity: arity}
}

func TestMethodIndexInterning(t *testing.T) {
	e := NewEnvironment()

	a1, err := e.GetOrCreateMethodIndex(sig("len", 0))
	require.NoError(t, err)
	a2, err := e.GetOrCreateMethodIndex(sig("len", 0))
	require.NoError(t, err)
	assert.Equal(t, a1, a2, "identical signatures intern to one index")

	// Distinct signatures — by name, arity, variadic-ness, or trait tag —
	// get distinct indexes.
	distinct := []value.MethodSignature{
		sig("len", 1),
		sig("push", 0),
		{Name: "len"},
		{Name: "len", HasArity: true, Arity: 0, HasTrait: true, TraitID: 1},
	}
	seen := map[value.MethodIndex]bool{a1: true}
	for _, s := range distinct {
		idx, err := e.GetOrCreateMethodIndex(s)
		require.NoError(t, err)
		assert.False(t, seen[idx], "signature %+v interned to an existing index", s)
		seen[idx] = true
	}

	assert.Equal(t, sig("len", 0), e.MethodSignatureAt(a1))
}

func TestFindMethodIndexDoesNotIntern(t *testing.T) {
	e := NewEnvironment()
	_, ok := e.FindMethodIndex(sig("nope", 0))
	assert.False(t, ok)
	// A failed lookup must not have grown the table.
	idx, err := e.GetOrCreateMethodIndex(sig("first", 0))
	require.NoError(t, err)
	assert.Equal(t, value.MethodIndex(0), idx)
}

func TestGlobals(t *testing.T) {
	e := NewEnvironment()

	_, ok := e.GetGlobal("x")
	assert.False(t, ok)

	idx, err := e.CreateGlobal("x")
	require.NoError(t, err)
	assert.Equal(t, "x", e.GlobalName(idx))
	assert.Equal(t, value.KindNil, e.GlobalValue(idx).Kind(), "new globals start out nil")

	e.SetGlobalValue(idx, value.NewNumber(3))
	assert.Equal(t, 3.0, e.GlobalValue(idx).AsNumber())

	again, ok := e.GetGlobal("x")
	assert.True(t, ok)
	assert.Equal(t, idx, again)
}

func TestFunctionArity(t *testing.T) {
	two := uint16(2)
	fixed := &Function{Name: "f", ParameterCount: &two}
	n, ok := fixed.Arity()
	assert.True(t, ok)
	assert.Equal(t, uint16(2), n)
	assert.False(t, fixed.IsVariadic())

	variadic := &Function{Name: "v"}
	_, ok = variadic.Arity()
	assert.False(t, ok)
	assert.True(t, variadic.IsVariadic())
}

func TestConforms(t *testing.T) {
	e := NewEnvironment()

	// A trait requiring hello/0, interned with a trait tag.
	traitIdx, err := e.GetOrCreateMethodIndex(value.MethodSignature{
		Name: "hello", HasArity: true, Arity: 0, HasTrait: true, TraitID: 7,
	})
	require.NoError(t, err)
	trait := &value.Trait{ID: 7, MethodSignatures: []value.MethodIndex{traitIdx}}

	// A type registering hello/0 plainly, the way TypeBuilder does.
	plainIdx, err := e.GetOrCreateMethodIndex(sig("hello", 0))
	require.NoError(t, err)
	dt := value.NewDispatchTable("T", value.InstanceDTable)
	assert.False(t, e.Conforms(dt, trait), "empty dispatch table does not conform")

	dt.SetMethod(plainIdx, gc.Alloc(value.Closure{Name: "T.hello"}))
	assert.True(t, e.Conforms(dt, trait), "plain registration satisfies the trait requirement")
}
