package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liquidev/mica/gc"
)

func TestEqualityLaws(t *testing.T) {
	str := NewString(gc.Alloc("abc"))
	closure := NewFunction(gc.Alloc(Closure{Name: "f"}))
	list := NewList(gc.Alloc(List{Items: []Value{NewNumber(1), NewNumber(2)}}))

	// Reflexive for every variant except Number(NaN).
	for _, v := range []Value{NewNil(), NewBoolean(true), NewBoolean(false), NewNumber(1.5), str, closure, list} {
		assert.True(t, v.Equal(v), "%s must equal itself", v.Kind())
	}
	nan := NewNumber(math.NaN())
	assert.False(t, nan.Equal(nan), "NaN compares unequal to itself")

	// Cross-kind inequality.
	kinds := []Value{NewNil(), NewBoolean(false), NewNumber(0), str, closure, list}
	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			assert.False(t, a.Equal(b), "%s == %s", a.Kind(), b.Kind())
		}
	}
}

func TestStringEqualityIsStructural(t *testing.T) {
	a := NewString(gc.Alloc("mica"))
	b := NewString(gc.Alloc("mica"))
	c := NewString(gc.Alloc("pony"))
	assert.True(t, a.Equal(b), "distinct handles, same contents")
	assert.True(t, b.Equal(a), "symmetric")
	assert.False(t, a.Equal(c))
}

func TestListEqualityIsStructural(t *testing.T) {
	mk := func(ns ...float64) Value {
		l := &List{}
		for _, n := range ns {
			l.Push(NewNumber(n))
		}
		return NewList(gc.Alloc(*l))
	}
	assert.True(t, mk(1, 2, 3).Equal(mk(1, 2, 3)))
	assert.False(t, mk(1, 2, 3).Equal(mk(1, 2)))
	assert.False(t, mk(1, 2, 3).Equal(mk(1, 2, 4)))
}

func TestDictEquality(t *testing.T) {
	// Dict keys hash by Value identity in the swiss table, so structural
	// key equality across distinct string handles is not part of the
	// contract; same-handle keys are.
	k := NewString(gc.Alloc("k"))
	a := NewDictObject(1)
	a.Set(k, NewNumber(1))
	b := NewDictObject(1)
	b.Set(k, NewNumber(1))
	assert.True(t, NewDict(gc.Alloc(*a)).Equal(NewDict(gc.Alloc(*b))))
	b.Set(k, NewNumber(2))
	assert.False(t, NewDict(gc.Alloc(*a)).Equal(NewDict(gc.Alloc(*b))))
}

func TestClosureEqualityIsIdentity(t *testing.T) {
	h := gc.Alloc(Closure{Name: "f"})
	a := NewFunction(h)
	b := NewFunction(h)
	c := NewFunction(gc.Alloc(Closure{Name: "f"}))
	assert.True(t, a.Equal(b), "same handle")
	assert.False(t, a.Equal(c), "identical contents, distinct handles")
}

func TestTruthiness(t *testing.T) {
	assert.False(t, NewNil().IsTruthy())
	assert.False(t, NewBoolean(false).IsTruthy())
	assert.True(t, NewBoolean(true).IsTruthy())
	assert.True(t, NewNumber(0).IsTruthy(), "zero is truthy")
	assert.True(t, NewString(gc.Alloc("")).IsTruthy(), "empty string is truthy")
}
