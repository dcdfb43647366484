package mica

import (
	"fmt"
	"reflect"

	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
)

// errorType is reflect.TypeOf((*error)(nil)).Elem(), used to recognize a
// trailing error return value on a marshalled host function.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// fromValue converts a script Value into a host type T, following the same
// rules a Call/Get convention would document: numbers, strings, and bools
// convert to their matching Go primitive, value.Value passes through
// unconverted, and a UserData value converts to T if its dynamic type
// implements or equals T.
func fromValue[T any](v value.Value) (T, error) {
	var zero T
	switch any(zero).(type) {
	case value.Value:
		return any(v).(T), nil
	case float64:
		if v.Kind() != value.KindNumber {
			return zero, errs.TypeMismatchError("number", v.Kind().String())
		}
		return any(v.AsNumber()).(T), nil
	case string:
		if v.Kind() != value.KindString {
			return zero, errs.TypeMismatchError("string", v.Kind().String())
		}
		return any(*v.AsString().Get()).(T), nil
	case bool:
		if v.Kind() != value.KindBoolean {
			return zero, errs.TypeMismatchError("boolean", v.Kind().String())
		}
		return any(v.AsBoolean()).(T), nil
	}
	if v.Kind() == value.KindUserData {
		data := *v.AsUserData().Get()
		if t, ok := any(data).(T); ok {
			return t, nil
		}
	}
	return zero, fmt.Errorf("mica: cannot convert a %s value to %T", v.Kind(), zero)
}

// toValue wraps a Go value produced by a marshalled host function into a
// script Value. String and UserData results are allocated through heap, so
// the heap's AllocatedObjects counts objects a host function hands back.
// Strings a script creates directly via PushString go through gc.Alloc
// instead and are not counted there.
func toValue(heap *gc.Heap, v any) (value.Value, error) {
	switch x := v.(type) {
	case value.Value:
		return x, nil
	case float64:
		return value.NewNumber(x), nil
	case int:
		return value.NewNumber(float64(x)), nil
	case string:
		return value.NewString(gc.Allocate(heap, x)), nil
	case bool:
		return value.NewBoolean(x), nil
	case value.UserData:
		return value.NewUserData(gc.Allocate(heap, x)), nil
	case nil:
		return value.NewNil(), nil
	default:
		return value.Value{}, fmt.Errorf("mica: %T does not convert to a script value", v)
	}
}

// argTarget converts a single script Value to the reflect.Value a
// marshalled host function parameter of type t expects.
func argTarget(v value.Value, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Float64:
		if v.Kind() != value.KindNumber {
			return reflect.Value{}, errs.TypeMismatchError("number", v.Kind().String())
		}
		return reflect.ValueOf(v.AsNumber()), nil
	case reflect.Int:
		if v.Kind() != value.KindNumber {
			return reflect.Value{}, errs.TypeMismatchError("number", v.Kind().String())
		}
		return reflect.ValueOf(int(v.AsNumber())), nil
	case reflect.String:
		if v.Kind() != value.KindString {
			return reflect.Value{}, errs.TypeMismatchError("string", v.Kind().String())
		}
		return reflect.ValueOf(*v.AsString().Get()), nil
	case reflect.Bool:
		if v.Kind() != value.KindBoolean {
			return reflect.Value{}, errs.TypeMismatchError("boolean", v.Kind().String())
		}
		return reflect.ValueOf(v.AsBoolean()), nil
	}
	if t == reflect.TypeOf(value.Value{}) {
		return reflect.ValueOf(v), nil
	}
	if v.Kind() == value.KindUserData {
		data := *v.AsUserData().Get()
		rv := reflect.ValueOf(data)
		if rv.Type().AssignableTo(t) {
			return rv, nil
		}
	}
	return reflect.Value{}, errs.TypeMismatchError(t.String(), v.Kind().String())
}

// marshalArgs converts script arguments to the parameter types of a
// reflected function type ahead of an fv.Call: fixed parameters convert
// one for one, and a trailing variadic parameter absorbs every remaining
// argument converted to its element type.
func marshalArgs(ft reflect.Type, args []value.Value) ([]reflect.Value, error) {
	numIn := ft.NumIn()
	variadic := ft.IsVariadic()
	fixed := numIn
	if variadic {
		fixed = numIn - 1
	}
	if variadic {
		if len(args) < fixed {
			return nil, errs.ArgumentCountError(fixed, len(args))
		}
	} else if len(args) != numIn {
		return nil, errs.ArgumentCountError(numIn, len(args))
	}

	out := make([]reflect.Value, len(args))
	for i, a := range args {
		var target reflect.Type
		if variadic && i >= fixed {
			target = ft.In(numIn - 1).Elem()
		} else {
			target = ft.In(i)
		}
		rv, err := argTarget(a, target)
		if err != nil {
			return nil, err
		}
		out[i] = rv
	}
	return out, nil
}

// marshalResults converts the results of fv.Call into the single Value a
// native function returns, supporting the conventional (T), (T, error), and
// (error) result shapes; a function with no results yields nil.
func marshalResults(heap *gc.Heap, results []reflect.Value) (value.Value, error) {
	if len(results) == 0 {
		return value.NewNil(), nil
	}
	last := results[len(results)-1]
	if last.Type().Implements(errorType) {
		if !last.IsNil() {
			return value.Value{}, last.Interface().(error)
		}
		results = results[:len(results)-1]
	}
	if len(results) == 0 {
		return value.NewNil(), nil
	}
	return toValue(heap, results[0].Interface())
}

// funcArity derives a declared arity from a reflected function type: nil
// (variadic) if the function itself is variadic, its parameter count
// otherwise. It never inspects a receiver convention — callers that reserve
// a receiver slot subtract or ignore it themselves.
func funcArity(ft reflect.Type) *uint16 {
	if ft.IsVariadic() {
		return nil
	}
	n := uint16(ft.NumIn())
	return &n
}

// marshalFunction reflects on f (which must be a Go function) and returns a
// NativeCallable that marshals script arguments into f's parameters and
// f's results back into a Value allocated against heap, plus f's arity
// (nil if f is variadic).
func marshalFunction(heap *gc.Heap, f any) (env.NativeCallable, *uint16, error) {
	fv := reflect.ValueOf(f)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, nil, errs.TypeMismatchError("function", ft.String())
	}
	arity := funcArity(ft)
	native := func(args []value.Value) (value.Value, error) {
		goArgs, err := marshalArgs(ft, args)
		if err != nil {
			return value.Value{}, err
		}
		return marshalResults(heap, fv.Call(goArgs))
	}
	return native, arity, nil
}
