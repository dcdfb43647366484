package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/codegen"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
)

// decode flattens a chunk back into opcodes for assertions.
func decode(c *bytecode.Chunk) []bytecode.Opcode {
	var ops []bytecode.Opcode
	offset := 0
	for offset < c.Len() {
		kind, operand, _, _, next := c.DecodeAt(offset)
		ops = append(ops, bytecode.Opcode{Kind: kind, Operand: operand})
		offset = next
	}
	return ops
}

func kinds(ops []bytecode.Opcode) []bytecode.Kind {
	ks := make([]bytecode.Kind, len(ops))
	for i, op := range ops {
		ks[i] = op.Kind
	}
	return ks
}

func contains(ops []bytecode.Opcode, kind bytecode.Kind, operand uint32) bool {
	for _, op := range ops {
		if op.Kind == kind && op.Operand.ToU32() == operand {
			return true
		}
	}
	return false
}

func TestLocalsInNestedScopes(t *testing.T) {
	// do n = 5; do n end end
	b := ast.NewBuilder("t")
	assign := b.Assign(b.Ident("n", 1, 4), b.NumberLiteral(5, 1, 8), 1, 6)
	inner := b.NodeList(ast.Do, []ast.NodeId{b.Ident("n", 2, 6)}, 2, 3)
	root := b.NodeList(ast.Main, []ast.NodeId{
		b.NodeList(ast.Do, []ast.NodeId{assign, inner}, 1, 1),
	}, 1, 1)

	e := env.NewEnvironment()
	chunk, err := codegen.Generate("t", e, b.Build(), root)
	require.NoError(t, err)

	ops := decode(chunk)
	assert.True(t, contains(ops, bytecode.AssignLocal, 0), "n resolves to local slot 0:\n%v", kinds(ops))
	assert.True(t, contains(ops, bytecode.GetLocal, 0), "reference at deeper scope stays a local:\n%v", kinds(ops))
	assert.EqualValues(t, 1, chunk.PreallocateStackSlots)
}

func TestTopLevelBindingsAreGlobals(t *testing.T) {
	// x = 10; x = x + 5; x
	b := ast.NewBuilder("t")
	root := b.NodeList(ast.Main, []ast.NodeId{
		b.Assign(b.Ident("x", 1, 1), b.NumberLiteral(10, 1, 5), 1, 3),
		b.Assign(b.Ident("x", 2, 1),
			b.Binary(ast.Add, b.Ident("x", 2, 5), b.NumberLiteral(5, 2, 9), 2, 7), 2, 3),
		b.Ident("x", 3, 1),
	}, 1, 1)

	e := env.NewEnvironment()
	chunk, err := codegen.Generate("t", e, b.Build(), root)
	require.NoError(t, err)

	slot, ok := e.GetGlobal("x")
	require.True(t, ok, "top-level binding becomes a global")

	ops := decode(chunk)
	count := 0
	for _, op := range ops {
		if op.Kind == bytecode.AssignGlobal {
			count++
			assert.Equal(t, slot.ToU32(), op.Operand.ToU32(), "both assignments reuse one slot")
		}
	}
	assert.Equal(t, 2, count)
}

func TestUpvalueCapture(t *testing.T) {
	// make = func() do n = 0; func() do n = n + 1; n end end
	b := ast.NewBuilder("t")
	innerBody := []ast.NodeId{
		b.Assign(b.Ident("n", 3, 3),
			b.Binary(ast.Add, b.Ident("n", 3, 7), b.NumberLiteral(1, 3, 11), 3, 9), 3, 5),
		b.Ident("n", 3, 14),
	}
	inner := b.Func(0, false, b.Parameters(nil, 3, 1), innerBody, 3, 1)
	makeBody := []ast.NodeId{
		b.Assign(b.Ident("n", 2, 3), b.NumberLiteral(0, 2, 7), 2, 5),
		inner,
	}
	root := b.NodeList(ast.Main, []ast.NodeId{
		b.Func(b.Ident("make", 1, 1), true, b.Parameters(nil, 1, 6), makeBody, 1, 1),
	}, 1, 1)

	e := env.NewEnvironment()
	_, err := codegen.Generate("t", e, b.Build(), root)
	require.NoError(t, err)

	require.Equal(t, 2, e.NumFunctions())
	innerFn := fnAt(t, e, 0)
	makeFn := fnAt(t, e, 1)

	assert.Equal(t, "<anonymous>", innerFn.Name)
	require.Len(t, innerFn.Captures, 1, "inner function captures n")
	assert.Equal(t, env.Capture{FromUpvalue: false, Index: 0}, innerFn.Captures[0], "n occupies make's slot 0")
	assert.Empty(t, makeFn.Captures)

	// The inner function's accesses go through upvalue 0.
	ops := decode(innerFn.Chunk)
	assert.True(t, contains(ops, bytecode.GetUpvalue, 0), "%v", kinds(ops))
	assert.True(t, contains(ops, bytecode.AssignUpvalue, 0), "%v", kinds(ops))
}

func TestTransitiveCapture(t *testing.T) {
	// outer = func() do x = 1; func() do func() do x end end end
	b := ast.NewBuilder("t")
	innermost := b.Func(0, false, b.Parameters(nil, 3, 1), []ast.NodeId{b.Ident("x", 3, 5)}, 3, 1)
	mid := b.Func(0, false, b.Parameters(nil, 2, 1), []ast.NodeId{innermost}, 2, 1)
	root := b.NodeList(ast.Main, []ast.NodeId{
		b.Func(b.Ident("outer", 1, 1), true, b.Parameters(nil, 1, 7), []ast.NodeId{
			b.Assign(b.Ident("x", 1, 10), b.NumberLiteral(1, 1, 14), 1, 12),
			mid,
		}, 1, 1),
	}, 1, 1)

	e := env.NewEnvironment()
	_, err := codegen.Generate("t", e, b.Build(), root)
	require.NoError(t, err)

	require.Equal(t, 3, e.NumFunctions())
	innermostFn := fnAt(t, e, 0)
	midFn := fnAt(t, e, 1)

	// mid captures outer's local slot 0; innermost captures mid's upvalue 0.
	require.Len(t, midFn.Captures, 1)
	assert.Equal(t, env.Capture{FromUpvalue: false, Index: 0}, midFn.Captures[0])
	require.Len(t, innermostFn.Captures, 1)
	assert.Equal(t, env.Capture{FromUpvalue: true, Index: 0}, innermostFn.Captures[0])
}

func TestVariableDoesNotExist(t *testing.T) {
	b := ast.NewBuilder("t")
	root := b.NodeList(ast.Main, []ast.NodeId{b.Ident("nope", 4, 2)}, 1, 1)

	_, err := codegen.Generate("t", env.NewEnvironment(), b.Build(), root)
	var cerr *errs.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, errs.VariableDoesNotExist, cerr.Kind)
	assert.Equal(t, 4, cerr.Location.Line)
	assert.Contains(t, cerr.Error(), "nope")
}

func TestBreakOutsideOfLoop(t *testing.T) {
	b := ast.NewBuilder("t")
	root := b.NodeList(ast.Main, []ast.NodeId{
		b.Break(b.Leaf(ast.Nil, 1, 7), 1, 1),
	}, 1, 1)

	_, err := codegen.Generate("t", env.NewEnvironment(), b.Build(), root)
	var cerr *errs.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, errs.BreakOutsideOfLoop, cerr.Kind)
}

func TestBreakableBlockEmission(t *testing.T) {
	mkWhile := func(withBreak bool) (*ast.Ast, ast.NodeId) {
		b := ast.NewBuilder("t")
		var body []ast.NodeId
		if withBreak {
			body = []ast.NodeId{b.Break(b.NumberLiteral(1, 1, 20), 1, 14)}
		} else {
			body = []ast.NodeId{b.Leaf(ast.Nil, 1, 14)}
		}
		root := b.NodeList(ast.Main, []ast.NodeId{
			b.While(b.Leaf(ast.True, 1, 7), body, 1, 1),
		}, 1, 1)
		return b.Build(), root
	}

	tree, root := mkWhile(true)
	chunk, err := codegen.Generate("t", env.NewEnvironment(), tree, root)
	require.NoError(t, err)
	ops := decode(chunk)
	assert.Contains(t, kinds(ops), bytecode.EnterBreakableBlock)
	assert.True(t, contains(ops, bytecode.ExitBreakableBlock, 1))

	tree, root = mkWhile(false)
	chunk, err = codegen.Generate("t", env.NewEnvironment(), tree, root)
	require.NoError(t, err)
	ops = decode(chunk)
	assert.NotContains(t, kinds(ops), bytecode.EnterBreakableBlock, "break-less loops keep the reserved Nop")
	assert.NotContains(t, kinds(ops), bytecode.ExitBreakableBlock)
}

func fnAt(t *testing.T, e *env.Environment, i uint32) *env.Function {
	t.Helper()
	id, err := bytecode.NewOpr24(i)
	require.NoError(t, err)
	return e.Function(id)
}
