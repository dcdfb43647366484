package value

import (
	"fmt"
	"math"

	"github.com/liquidev/mica/gc"
)

// Value is a dynamically-typed runtime value: a discriminant plus,
// depending on the discriminant, either an inline f64 or a heap handle
// boxed through payload. A compact NaN-boxed single-word encoding exists
// in other runtimes of this shape; it is not viable here, since a pointer
// hidden inside a float's bit pattern is invisible to Go's garbage
// collector.
//
// The zero Value is Nil.
type Value struct {
	disc    discriminant
	num     float64
	payload any
}

// NewNil returns the nil value.
func NewNil() Value { return Value{disc: dNil} }

// NewBoolean returns the true or false singleton.
func NewBoolean(b bool) Value {
	if b {
		return Value{disc: dTrue}
	}
	return Value{disc: dFalse}
}

// NewNumber wraps a float64.
func NewNumber(n float64) Value { return Value{disc: dNumber, num: n} }

// NewString wraps a heap-allocated string handle.
func NewString(s gc.Gc[string]) Value { return Value{disc: dString, payload: s} }

// NewFunction wraps a closure handle.
func NewFunction(c gc.Gc[Closure]) Value { return Value{disc: dFunction, payload: c} }

// NewStruct wraps a struct handle.
func NewStruct(s gc.Gc[Struct]) Value { return Value{disc: dStruct, payload: s} }

// NewTrait wraps a trait handle.
func NewTrait(t gc.Gc[Trait]) Value { return Value{disc: dTrait, payload: t} }

// NewList wraps a list handle.
func NewList(l gc.Gc[List]) Value { return Value{disc: dList, payload: l} }

// NewDict wraps a dict handle.
func NewDict(d gc.Gc[Dict]) Value { return Value{disc: dDict, payload: d} }

// NewUserData wraps a user-data handle.
func NewUserData(u gc.Gc[UserData]) Value { return Value{disc: dUserData, payload: u} }

// Kind reports the value's semantic type.
func (v Value) Kind() Kind {
	switch v.disc {
	case dNil:
		return KindNil
	case dFalse, dTrue:
		return KindBoolean
	case dNumber:
		return KindNumber
	case dString:
		return KindString
	case dFunction:
		return KindFunction
	case dStruct:
		return KindStruct
	case dTrait:
		return KindTrait
	case dList:
		return KindList
	case dDict:
		return KindDict
	case dUserData:
		return KindUserData
	default:
		panic("value: corrupt discriminant")
	}
}

// IsTruthy reports whether the value is truthy: everything except nil and
// false is truthy.
func (v Value) IsTruthy() bool {
	return v.disc != dNil && v.disc != dFalse
}

func (v Value) mustKind(k Kind, method string) {
	if v.Kind() != k {
		panic(fmt.Sprintf("value: %s called on a %s value", method, v.Kind()))
	}
}

// AsBoolean returns the boolean payload. Panics if Kind() != Boolean.
func (v Value) AsBoolean() bool {
	v.mustKind(KindBoolean, "AsBoolean")
	return v.disc == dTrue
}

// AsNumber returns the float64 payload. Panics if Kind() != Number.
func (v Value) AsNumber() float64 {
	v.mustKind(KindNumber, "AsNumber")
	return v.num
}

// AsString returns the string handle. Panics if Kind() != String.
func (v Value) AsString() gc.Gc[string] {
	v.mustKind(KindString, "AsString")
	return v.payload.(gc.Gc[string])
}

// AsFunction returns the closure handle. Panics if Kind() != Function.
func (v Value) AsFunction() gc.Gc[Closure] {
	v.mustKind(KindFunction, "AsFunction")
	return v.payload.(gc.Gc[Closure])
}

// AsStruct returns the struct handle. Panics if Kind() != Struct.
func (v Value) AsStruct() gc.Gc[Struct] {
	v.mustKind(KindStruct, "AsStruct")
	return v.payload.(gc.Gc[Struct])
}

// AsTrait returns the trait handle. Panics if Kind() != Trait.
func (v Value) AsTrait() gc.Gc[Trait] {
	v.mustKind(KindTrait, "AsTrait")
	return v.payload.(gc.Gc[Trait])
}

// AsList returns the list handle. Panics if Kind() != List.
func (v Value) AsList() gc.Gc[List] {
	v.mustKind(KindList, "AsList")
	return v.payload.(gc.Gc[List])
}

// AsDict returns the dict handle. Panics if Kind() != Dict.
func (v Value) AsDict() gc.Gc[Dict] {
	v.mustKind(KindDict, "AsDict")
	return v.payload.(gc.Gc[Dict])
}

// AsUserData returns the user-data handle. Panics if Kind() != UserData.
func (v Value) AsUserData() gc.Gc[UserData] {
	v.mustKind(KindUserData, "AsUserData")
	return v.payload.(gc.Gc[UserData])
}

// Equal implements the equality rules from the data model: numbers compare
// by IEEE 754 (so NaN != NaN), strings/lists/dicts compare structurally by
// contents, functions/structs/traits/user-data compare by handle identity,
// and nil/true/false are singletons.
func (v Value) Equal(other Value) bool {
	if v.disc != other.disc {
		return false
	}
	switch v.disc {
	case dNil, dFalse, dTrue:
		return true
	case dNumber:
		return v.num == other.num
	case dString:
		return *v.AsString().Get() == *other.AsString().Get()
	case dFunction:
		return v.AsFunction().Identity() == other.AsFunction().Identity()
	case dStruct:
		return v.AsStruct().Identity() == other.AsStruct().Identity()
	case dTrait:
		return v.AsTrait().Identity() == other.AsTrait().Identity()
	case dList:
		a, b := v.AsList().Get(), other.AsList().Get()
		if a == b {
			return true
		}
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !a.Items[i].Equal(b.Items[i]) {
				return false
			}
		}
		return true
	case dDict:
		return v.AsDict().Get().equalTo(other.AsDict().Get())
	case dUserData:
		return v.AsUserData().Identity() == other.AsUserData().Identity()
	default:
		return false
	}
}

// String renders the value for diagnostics; it is not the language-level
// string conversion (which user types may override via a dispatch table
// method), only a fallback, used for instance when the CLI's run command
// prints a script's result.
func (v Value) String() string {
	switch v.disc {
	case dNil:
		return "nil"
	case dFalse:
		return "false"
	case dTrue:
		return "true"
	case dNumber:
		if math.IsInf(v.num, 1) {
			return "inf"
		}
		if math.IsInf(v.num, -1) {
			return "-inf"
		}
		return fmt.Sprintf("%g", v.num)
	case dString:
		return *v.AsString().Get()
	case dFunction:
		return fmt.Sprintf("<function %p>", v.AsFunction().Identity())
	case dStruct:
		return fmt.Sprintf("<struct %p>", v.AsStruct().Identity())
	case dTrait:
		return fmt.Sprintf("<trait %p>", v.AsTrait().Identity())
	case dList:
		return fmt.Sprintf("<list %p>", v.AsList().Identity())
	case dDict:
		return fmt.Sprintf("<dict %p>", v.AsDict().Identity())
	case dUserData:
		return fmt.Sprintf("<user data %p>", v.AsUserData().Identity())
	default:
		return "<corrupt value>"
	}
}
