package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/gc"
	"github.com/liquidev/mica/value"
	"github.com/liquidev/mica/vm"
)

func mkLoc(module string, line, column int) ast.Location {
	return ast.Location{ModuleName: module, Line: line, Column: column}
}

func mustOpr(t *testing.T, x uint32) bytecode.Opr24 {
	t.Helper()
	op, err := bytecode.NewOpr24(x)
	require.NoError(t, err)
	return op
}

// registerForeign interns a foreign function and binds it to a global,
// returning the global's slot.
func registerForeign(t *testing.T, e *env.Environment, name string, arity *uint16, fn env.NativeCallable) bytecode.Opr24 {
	t.Helper()
	fid, err := e.CreateFunction(&env.Function{
		Name:           name,
		ParameterCount: arity,
		Kind:           env.Foreign,
		Native:         fn,
	})
	require.NoError(t, err)
	slot, err := e.CreateGlobal(name)
	require.NoError(t, err)
	e.SetGlobalValue(slot, value.NewFunction(gc.Alloc(value.Closure{Name: name, FunctionID: fid})))
	return slot
}

func TestForeignCallLeavesResultInCalleeSlot(t *testing.T) {
	e := env.NewEnvironment()
	one := uint16(1)
	slot := registerForeign(t, e, "double", &one, func(args []value.Value) (value.Value, error) {
		return value.NewNumber(args[0].AsNumber() * 2), nil
	})

	// 100 + double(21)
	c := bytecode.NewChunk("t")
	c.PushNumber(100)
	c.PushOperand(bytecode.GetGlobal, slot)
	c.PushNumber(21)
	c.PushOperand(bytecode.Call, mustOpr(t, 1))
	c.Push(bytecode.Add)
	c.Push(bytecode.Halt)

	res, err := vm.NewFiber(e).Start(c)
	require.NoError(t, err)
	assert.Equal(t, 142.0, res.AsNumber())
}

func TestForeignArityMismatch(t *testing.T) {
	e := env.NewEnvironment()
	two := uint16(2)
	slot := registerForeign(t, e, "pair", &two, func(args []value.Value) (value.Value, error) {
		return value.NewNil(), nil
	})

	c := bytecode.NewChunk("t")
	c.PushOperand(bytecode.GetGlobal, slot)
	c.PushNumber(1)
	c.PushOperand(bytecode.Call, mustOpr(t, 1))
	c.Push(bytecode.Halt)

	_, err := vm.NewFiber(e).Start(c)
	var rerr *errs.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, errs.ArgumentCount, rerr.Kind)
	assert.Contains(t, rerr.Error(), "expected 2 argument(s), got 1")
}

func TestMethodDispatchVariadicFallback(t *testing.T) {
	e := env.NewEnvironment()

	sum := func(args []value.Value) (value.Value, error) {
		total := 0.0
		for _, a := range args[1:] {
			total += a.AsNumber()
		}
		return value.NewNumber(total), nil
	}
	fid, err := e.CreateFunction(&env.Function{Name: "number.sum", Kind: env.Foreign, Native: sum})
	require.NoError(t, err)

	dt := value.NewDispatchTable("number", value.InstanceDTable)
	vidx, err := e.GetOrCreateMethodIndex(value.MethodSignature{Name: "sum"})
	require.NoError(t, err)
	dt.SetMethod(vidx, gc.Alloc(value.Closure{Name: "number.sum", FunctionID: fid}))
	e.RegisterBuiltinDtable(value.KindNumber, dt)

	// The call sites intern sum/2, which the dtable does not provide; the
	// variadic signature catches it.
	midx, err := e.GetOrCreateMethodIndex(value.MethodSignature{Name: "sum", HasArity: true, Arity: 2})
	require.NoError(t, err)
	packed, err := bytecode.PackOpr24(uint32(midx), 16, 2, 8)
	require.NoError(t, err)

	c := bytecode.NewChunk("t")
	c.PushNumber(1)
	c.PushNumber(20)
	c.PushNumber(300)
	c.PushOperand(bytecode.CallMethod, packed)
	c.Push(bytecode.Halt)

	res, err := vm.NewFiber(e).Start(c)
	require.NoError(t, err)
	assert.Equal(t, 320.0, res.AsNumber(), "receiver is argument 0, not part of the sum")
}

func TestMethodDispatchExactArityWinsOverVariadic(t *testing.T) {
	e := env.NewEnvironment()

	mk := func(result float64) bytecode.Opr24 {
		fid, err := e.CreateFunction(&env.Function{Name: "number.which", Kind: env.Foreign,
			Native: func(args []value.Value) (value.Value, error) {
				return value.NewNumber(result), nil
			}})
		require.NoError(t, err)
		return fid
	}

	dt := value.NewDispatchTable("number", value.InstanceDTable)
	vidx, err := e.GetOrCreateMethodIndex(value.MethodSignature{Name: "which"})
	require.NoError(t, err)
	dt.SetMethod(vidx, gc.Alloc(value.Closure{Name: "number.which", FunctionID: mk(1)}))
	one := uint16(1)
	eidx, err := e.GetOrCreateMethodIndex(value.MethodSignature{Name: "which", HasArity: true, Arity: one})
	require.NoError(t, err)
	dt.SetMethod(eidx, gc.Alloc(value.Closure{Name: "number.which", FunctionID: mk(2)}))
	e.RegisterBuiltinDtable(value.KindNumber, dt)

	packed, err := bytecode.PackOpr24(uint32(eidx), 16, 1, 8)
	require.NoError(t, err)

	c := bytecode.NewChunk("t")
	c.PushNumber(0)
	c.PushNumber(0)
	c.PushOperand(bytecode.CallMethod, packed)
	c.Push(bytecode.Halt)

	res, err := vm.NewFiber(e).Start(c)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.AsNumber())
}

func TestTrampolineReentry(t *testing.T) {
	e := env.NewEnvironment()
	fiber := vm.NewFiber(e)

	// A foreign function that calls its argument back through the
	// trampoline, twice, from inside the VM loop.
	one := uint16(1)
	slot := registerForeign(t, e, "twice", &one, func(args []value.Value) (value.Value, error) {
		first, err := fiber.Call(args[0], nil)
		if err != nil {
			return value.Value{}, err
		}
		second, err := fiber.Call(args[0], nil)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewNumber(first.AsNumber() + second.AsNumber()), nil
	})

	// A bytecode function returning 21.
	body := bytecode.NewChunk("t")
	body.PushNumber(21)
	body.Push(bytecode.Return)
	zero := uint16(0)
	fid, err := e.CreateFunction(&env.Function{Name: "answer", ParameterCount: &zero, Kind: env.Bytecode, Chunk: body})
	require.NoError(t, err)

	c := bytecode.NewChunk("t")
	c.PushOperand(bytecode.GetGlobal, slot)
	c.PushOperand(bytecode.CreateClosure, fid)
	c.PushOperand(bytecode.Call, mustOpr(t, 1))
	c.Push(bytecode.Halt)

	res, err := fiber.Start(c)
	require.NoError(t, err)
	assert.Equal(t, 42.0, res.AsNumber())
}

func TestRuntimeErrorCarriesStackTrace(t *testing.T) {
	e := env.NewEnvironment()
	zero := uint16(0)
	slot := registerForeign(t, e, "boom", &zero, func(args []value.Value) (value.Value, error) {
		return value.Value{}, errs.NewRuntimeError(errs.TypeMismatch, "kaboom")
	})

	// A bytecode function "f" that calls boom, called from the module.
	body := bytecode.NewChunk("mod")
	body.SetLocation(mkLoc("mod", 3, 5))
	body.PushOperand(bytecode.GetGlobal, slot)
	body.PushOperand(bytecode.Call, mustOpr(t, 0))
	body.Push(bytecode.Return)
	fid, err := e.CreateFunction(&env.Function{Name: "f", ParameterCount: &zero, Kind: env.Bytecode, Chunk: body})
	require.NoError(t, err)

	c := bytecode.NewChunk("mod")
	c.SetLocation(mkLoc("mod", 1, 1))
	c.PushOperand(bytecode.CreateClosure, fid)
	c.PushOperand(bytecode.Call, mustOpr(t, 0))
	c.Push(bytecode.Halt)

	fiber := vm.NewFiber(e)
	_, err = fiber.Start(c)
	var rerr *errs.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Len(t, rerr.StackTrace, 2, "innermost f, then the module")
	assert.Equal(t, "f", rerr.StackTrace[0].FunctionName)
	assert.Equal(t, "mod", rerr.StackTrace[0].Location.ModuleName)
	assert.Equal(t, 3, rerr.StackTrace[0].Location.Line)
	assert.Equal(t, "<module>", rerr.StackTrace[1].FunctionName)
	assert.Contains(t, rerr.Error(), "kaboom")

	// The fiber stays usable after an error: the stack was unwound.
	again := bytecode.NewChunk("mod")
	again.PushNumber(1)
	again.Push(bytecode.Halt)
	res, err := fiber.Start(again)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.AsNumber())
}

func TestStackOverflow(t *testing.T) {
	e := env.NewEnvironment()
	fiber := vm.NewFiberSize(e, 8)

	c := bytecode.NewChunk("t")
	c.PushNumber(1) // 0: grow the stack one slot per iteration
	kind, op, err := c.JumpBackward(0)
	require.NoError(t, err)
	c.PushOperand(kind, op)
	c.Push(bytecode.Halt)

	_, err = fiber.Start(c)
	var rerr *errs.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, errs.StackOverflow, rerr.Kind)
}
