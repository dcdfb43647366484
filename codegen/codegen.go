// Package codegen implements the single-pass code generator: it walks an
// ast.Ast and emits bytecode into a bytecode.Chunk, interning globals,
// functions, and upvalue captures into an env.Environment as it goes.
package codegen

import (
	"github.com/liquidev/mica/ast"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/errs"
	"github.com/liquidev/mica/value"
)

type breakableBlock struct {
	breaks []int
	start  int
}

// Generator compiles one function body (the top level, or a nested `func`)
// into a Chunk. Nested functions get their own Generator sharing the same
// Environment, linked through locals.parent for upvalue resolution.
type Generator struct {
	moduleName string
	env        *env.Environment

	chunk  *bytecode.Chunk
	locals *locals

	breakableBlocks []*breakableBlock
}

// NewGenerator creates a top-level generator for a module.
func NewGenerator(moduleName string, e *env.Environment) *Generator {
	return &Generator{
		moduleName: moduleName,
		env:        e,
		chunk:      bytecode.NewChunk(moduleName),
		locals:     newLocals(nil),
	}
}

// Generate compiles the tree rooted at root into a finished chunk, emitting
// a trailing Halt. This is the module-level entry point (ast.Main).
func Generate(moduleName string, e *env.Environment, a *ast.Ast, root ast.NodeId) (*bytecode.Chunk, error) {
	g := NewGenerator(moduleName, e)
	if err := g.generateNode(a, root); err != nil {
		return nil, err
	}
	g.chunk.Push(bytecode.Halt)
	return g.chunk, nil
}

func wrap(err error, loc ast.Location) error {
	if err == nil {
		return nil
	}
	if k, ok := err.(errs.Kind); ok {
		return errs.NewCompileError(k, loc, "")
	}
	if ce, ok := err.(*errs.CompileError); ok && ce.Location == (ast.Location{}) {
		return &errs.CompileError{Kind: ce.Kind, Location: loc, Detail: ce.Detail}
	}
	return err
}

func (g *Generator) createVariable(name string, allocation variableAllocation) (variablePlace, error) {
	if len(g.locals.scopes) > 0 {
		place, err := g.locals.createLocal(name, allocation)
		if err != nil {
			return variablePlace{}, err
		}
		if g.locals.allocatedLocalCount > g.chunk.PreallocateStackSlots {
			g.chunk.PreallocateStackSlots = g.locals.allocatedLocalCount
		}
		return place, nil
	}
	slot, err := g.env.CreateGlobal(name)
	if err != nil {
		return variablePlace{}, err
	}
	return variablePlace{kind: placeGlobal, slot: slot}, nil
}

func (g *Generator) lookupVariable(name string) (variablePlace, bool, error) {
	place, ok, err := g.locals.lookup(name)
	if err != nil {
		return variablePlace{}, false, err
	}
	if ok {
		return place, true, nil
	}
	if slot, ok := g.env.GetGlobal(name); ok {
		return variablePlace{kind: placeGlobal, slot: slot}, true, nil
	}
	return variablePlace{}, false, nil
}

func (g *Generator) pushScope() { g.locals.pushScope() }
func (g *Generator) popScope()  { g.locals.popScope() }

func (g *Generator) generateVariableLoad(v variablePlace) {
	switch v.kind {
	case placeGlobal:
		g.chunk.PushOperand(bytecode.GetGlobal, v.slot)
	case placeLocal:
		g.chunk.PushOperand(bytecode.GetLocal, v.slot)
	case placeUpvalue:
		g.chunk.PushOperand(bytecode.GetUpvalue, v.slot)
	}
}

func (g *Generator) generateVariableAssign(v variablePlace) {
	switch v.kind {
	case placeGlobal:
		g.chunk.PushOperand(bytecode.AssignGlobal, v.slot)
	case placeLocal:
		g.chunk.PushOperand(bytecode.AssignLocal, v.slot)
	case placeUpvalue:
		g.chunk.PushOperand(bytecode.AssignUpvalue, v.slot)
	}
}

func (g *Generator) pushBreakableBlock() {
	start := g.chunk.Push(bytecode.Nop)
	g.breakableBlocks = append(g.breakableBlocks, &breakableBlock{start: start})
}

func (g *Generator) popBreakableBlock() error {
	n := len(g.breakableBlocks) - 1
	block := g.breakableBlocks[n]
	g.breakableBlocks = g.breakableBlocks[:n]
	if len(block.breaks) > 0 {
		g.chunk.Patch(block.start, bytecode.EnterBreakableBlock, bytecode.Opr24{})
		for _, jump := range block.breaks {
			kind, op, err := g.chunk.JumpForward(g.chunk.Len())
			if err != nil {
				return err
			}
			g.chunk.Patch(jump, kind, op)
		}
		one, _ := bytecode.NewOpr24(1)
		g.chunk.PushOperand(bytecode.ExitBreakableBlock, one)
	}
	return nil
}

// generateNodeList compiles a sequence of nodes, leaving the last one's
// value on the stack (or nil, if the list is empty).
func (g *Generator) generateNodeList(a *ast.Ast, nodes []ast.NodeId) error {
	if len(nodes) == 0 {
		g.chunk.Push(bytecode.PushNil)
		return nil
	}
	for i, node := range nodes {
		if err := g.generateNode(a, node); err != nil {
			return err
		}
		if i != len(nodes)-1 {
			g.chunk.Push(bytecode.Discard)
		}
	}
	return nil
}

func (g *Generator) generateUnary(a *ast.Ast, node ast.NodeId) error {
	left, _ := a.NodePair(node)
	if err := g.generateNode(a, left); err != nil {
		return err
	}
	switch a.Kind(node) {
	case ast.Negate:
		g.chunk.Push(bytecode.Negate)
	case ast.Not:
		g.chunk.Push(bytecode.Not)
	}
	return nil
}

func (g *Generator) generateBinary(a *ast.Ast, node ast.NodeId) error {
	left, right := a.NodePair(node)
	if err := g.generateNode(a, left); err != nil {
		return err
	}
	if err := g.generateNode(a, right); err != nil {
		return err
	}
	switch a.Kind(node) {
	case ast.Add:
		g.chunk.Push(bytecode.Add)
	case ast.Subtract:
		g.chunk.Push(bytecode.Subtract)
	case ast.Multiply:
		g.chunk.Push(bytecode.Multiply)
	case ast.Divide:
		g.chunk.Push(bytecode.Divide)
	case ast.Equal:
		g.chunk.Push(bytecode.Equal)
	case ast.NotEqual:
		g.chunk.Push(bytecode.Equal)
		g.chunk.Push(bytecode.Not)
	case ast.Less:
		g.chunk.Push(bytecode.Less)
	case ast.LessEqual:
		g.chunk.Push(bytecode.LessEqual)
	case ast.Greater:
		g.chunk.Push(bytecode.Swap)
		g.chunk.Push(bytecode.Less)
	case ast.GreaterEqual:
		g.chunk.Push(bytecode.Swap)
		g.chunk.Push(bytecode.LessEqual)
	}
	return nil
}

func (g *Generator) generateVariable(a *ast.Ast, node ast.NodeId) error {
	name, _ := a.String(node)
	place, ok, err := g.lookupVariable(name)
	if err != nil {
		return wrap(err, a.Location(node))
	}
	if !ok {
		return errs.NewCompileError(errs.VariableDoesNotExist, a.Location(node), "%s", name)
	}
	g.generateVariableLoad(place)
	return nil
}

func (g *Generator) generateAssignment(a *ast.Ast, node ast.NodeId) error {
	target, value := a.NodePair(node)
	if err := g.generateNode(a, value); err != nil {
		return err
	}
	if a.Kind(target) != ast.Identifier {
		return errs.NewCompileError(errs.VariableDoesNotExist, a.Location(target), "assignment target must be an identifier")
	}
	name, _ := a.String(target)
	place, ok, err := g.lookupVariable(name)
	if err != nil {
		return wrap(err, a.Location(target))
	}
	if !ok {
		place, err = g.createVariable(name, allocAllocate)
		if err != nil {
			return wrap(err, a.Location(node))
		}
	}
	g.generateVariableAssign(place)
	return nil
}

func (g *Generator) generateDo(a *ast.Ast, node ast.NodeId) error {
	children, _ := a.Children(node)
	g.pushScope()
	err := g.generateNodeList(a, children)
	g.popScope()
	return err
}

func (g *Generator) generateIf(a *ast.Ast, node ast.NodeId) error {
	branches, _ := a.Children(node)
	var jumpsToEnd []int

	for i, branch := range branches {
		if i > 0 {
			g.chunk.Push(bytecode.Discard)
		}
		then, _ := a.Children(branch)
		switch a.Kind(branch) {
		case ast.IfBranch:
			condition, _ := a.NodePair(branch)
			g.pushScope()
			if err := g.generateNode(a, condition); err != nil {
				return err
			}
			jump := g.chunk.Push(bytecode.Nop)
			g.chunk.Push(bytecode.Discard)
			if err := g.generateNodeList(a, then); err != nil {
				return err
			}
			g.popScope()
			jumpToEnd := g.chunk.Push(bytecode.Nop)
			jumpsToEnd = append(jumpsToEnd, jumpToEnd)
			kind, op, err := g.chunk.JumpForwardIfFalsy(g.chunk.Len())
			if err != nil {
				return errs.NewCompileError(errs.IfBranchTooLarge, a.Location(branch), "")
			}
			g.chunk.Patch(jump, kind, op)

		case ast.ElseBranch:
			g.pushScope()
			if err := g.generateNodeList(a, then); err != nil {
				return err
			}
			g.popScope()
		}
	}

	for _, jump := range jumpsToEnd {
		kind, op, err := g.chunk.JumpForward(g.chunk.Len())
		if err != nil {
			return errs.NewCompileError(errs.IfExpressionTooLarge, a.Location(node), "")
		}
		g.chunk.Patch(jump, kind, op)
	}
	return nil
}

func (g *Generator) generateAnd(a *ast.Ast, node ast.NodeId) error {
	left, right := a.NodePair(node)
	if err := g.generateNode(a, left); err != nil {
		return err
	}
	jump := g.chunk.Push(bytecode.Nop)
	g.chunk.Push(bytecode.Discard)
	if err := g.generateNode(a, right); err != nil {
		return err
	}
	kind, op, err := g.chunk.JumpForwardIfFalsy(g.chunk.Len())
	if err != nil {
		return errs.NewCompileError(errs.OperatorRhsTooLarge, a.Location(node), "")
	}
	g.chunk.Patch(jump, kind, op)
	return nil
}

func (g *Generator) generateOr(a *ast.Ast, node ast.NodeId) error {
	left, right := a.NodePair(node)
	if err := g.generateNode(a, left); err != nil {
		return err
	}
	jump := g.chunk.Push(bytecode.Nop)
	g.chunk.Push(bytecode.Discard)
	if err := g.generateNode(a, right); err != nil {
		return err
	}
	kind, op, err := g.chunk.JumpForwardIfTruthy(g.chunk.Len())
	if err != nil {
		return errs.NewCompileError(errs.OperatorRhsTooLarge, a.Location(node), "")
	}
	g.chunk.Patch(jump, kind, op)
	return nil
}

func (g *Generator) generateWhile(a *ast.Ast, node ast.NodeId) error {
	condition, _ := a.NodePair(node)
	body, _ := a.Children(node)

	g.pushScope()
	g.pushBreakableBlock()

	start := g.chunk.Len()
	if err := g.generateNode(a, condition); err != nil {
		return err
	}
	jumpToEnd := g.chunk.Push(bytecode.Nop)
	g.chunk.Push(bytecode.Discard)

	if err := g.generateNodeList(a, body); err != nil {
		return err
	}
	g.chunk.Push(bytecode.Discard)

	kind, op, err := g.chunk.JumpBackward(start)
	if err != nil {
		return errs.NewCompileError(errs.LoopTooLarge, a.Location(node), "")
	}
	g.chunk.PushOperand(kind, op)

	kind, op, err = g.chunk.JumpForwardIfFalsy(g.chunk.Len())
	if err != nil {
		return errs.NewCompileError(errs.LoopTooLarge, a.Location(node), "")
	}
	g.chunk.Patch(jumpToEnd, kind, op)
	g.chunk.Push(bytecode.Discard)
	g.chunk.Push(bytecode.PushNil)

	if err := g.popBreakableBlock(); err != nil {
		return errs.NewCompileError(errs.LoopTooLarge, a.Location(node), "")
	}
	g.popScope()
	return nil
}

func (g *Generator) generateBreak(a *ast.Ast, node ast.NodeId) error {
	right, _ := a.NodePair(node)
	if err := g.generateNode(a, right); err != nil {
		return err
	}
	jump := g.chunk.Push(bytecode.Nop)
	if len(g.breakableBlocks) == 0 {
		return errs.NewCompileError(errs.BreakOutsideOfLoop, a.Location(node), "")
	}
	block := g.breakableBlocks[len(g.breakableBlocks)-1]
	block.breaks = append(block.breaks, jump)
	return nil
}

func (g *Generator) generateCall(a *ast.Ast, node ast.NodeId) error {
	callee, _ := a.NodePair(node)
	if err := g.generateNode(a, callee); err != nil {
		return err
	}
	arguments, _ := a.Children(node)
	for _, arg := range arguments {
		if err := g.generateNode(a, arg); err != nil {
			return err
		}
	}
	argc, err := bytecode.NewOpr24(uint32(len(arguments)))
	if err != nil {
		return errs.NewCompileError(errs.TooManyArguments, a.Location(node), "")
	}
	g.chunk.PushOperand(bytecode.Call, argc)
	return nil
}

// generateMethodCall compiles `receiver.name(arguments...)`: the receiver
// first (it becomes CallMethod's implicit argument 0), then each argument,
// then a single CallMethod instruction whose operand packs the interned
// method index together with the argument count.
func (g *Generator) generateMethodCall(a *ast.Ast, node ast.NodeId) error {
	receiver, _ := a.NodePair(node)
	if err := g.generateNode(a, receiver); err != nil {
		return err
	}
	name, _ := a.String(node)
	arguments, _ := a.Children(node)
	for _, arg := range arguments {
		if err := g.generateNode(a, arg); err != nil {
			return err
		}
	}
	argc := len(arguments)
	if argc > 0xFF {
		return errs.NewCompileError(errs.TooManyArguments, a.Location(node), "")
	}
	arity, err := asUint16(argc)
	if err != nil {
		return errs.NewCompileError(errs.TooManyArguments, a.Location(node), "")
	}
	methodIndex, err := g.env.GetOrCreateMethodIndex(value.MethodSignature{
		Name:     name,
		HasArity: true,
		Arity:    arity,
	})
	if err != nil {
		return wrap(err, a.Location(node))
	}
	// CallMethod packs (method_index: 16, argc: 8); 8 bits of argc caps a
	// single method call at 255 arguments, far below the Opr24-wide
	// argument ceiling of plain Call.
	operand, err := bytecode.PackOpr24(uint32(methodIndex), 16, uint32(argc), 8)
	if err != nil {
		return errs.NewCompileError(errs.TooManyArguments, a.Location(node), "")
	}
	g.chunk.PushOperand(bytecode.CallMethod, operand)
	return nil
}

func (g *Generator) generateReturn(a *ast.Ast, node ast.NodeId) error {
	value, hasValue := a.NodePair(node)
	if hasValue == 1 {
		if err := g.generateNode(a, value); err != nil {
			return err
		}
	} else {
		g.chunk.Push(bytecode.PushNil)
	}
	// The VM's Return opcode closes every open upvalue referencing this
	// frame's slots, pops the frame, and yields the value just pushed, so
	// no separate jump-to-epilogue is needed.
	g.chunk.Push(bytecode.Return)
	return nil
}

func (g *Generator) generateFunction(a *ast.Ast, node ast.NodeId) error {
	_, parameters := a.NodePair(node)
	parameterList, _ := a.Children(parameters)
	body, _ := a.Children(node)
	name, hasName := a.FuncName(node)

	var variable *variablePlace
	var nameStr string
	if hasName {
		nameStr, _ = a.String(name)
		place, err := g.createVariable(nameStr, allocAllocate)
		if err != nil {
			return wrap(err, a.Location(name))
		}
		variable = &place
	} else {
		nameStr = "<anonymous>"
	}

	child := &Generator{
		moduleName: g.moduleName,
		env:        g.env,
		chunk:      bytecode.NewChunk(g.moduleName),
		locals:     newLocals(g.locals),
	}
	child.pushScope()
	for _, parameter := range parameterList {
		paramName, _ := a.String(parameter)
		if _, err := child.createVariable(paramName, allocInherit); err != nil {
			return wrap(err, a.Location(parameter))
		}
	}
	if err := child.generateNodeList(a, body); err != nil {
		return err
	}
	child.popScope()
	child.chunk.Push(bytecode.Return)

	parameterCount, err := asUint16(len(parameterList))
	if err != nil {
		return errs.NewCompileError(errs.TooManyParameters, a.Location(parameters), "")
	}

	captures := make([]env.Capture, len(child.locals.captures))
	for i, c := range child.locals.captures {
		captures[i] = env.Capture{FromUpvalue: c.fromUpvalue, Index: c.index}
	}

	fn := &env.Function{
		Name:           nameStr,
		ParameterCount: &parameterCount,
		Kind:           env.Bytecode,
		Chunk:          child.chunk,
		Captures:       captures,
	}
	functionID, err := g.env.CreateFunction(fn)
	if err != nil {
		return wrap(err, a.Location(node))
	}
	g.chunk.PushOperand(bytecode.CreateClosure, functionID)
	if variable != nil {
		g.generateVariableAssign(*variable)
		g.chunk.Push(bytecode.Discard)
		g.chunk.Push(bytecode.PushNil)
	}
	return nil
}

func asUint16(n int) (uint16, error) {
	if n > 0xFFFF {
		return 0, errs.TooManyParameters
	}
	return uint16(n), nil
}

func (g *Generator) generateNode(a *ast.Ast, node ast.NodeId) error {
	previousLoc := g.chunk.CurrentLocation()
	g.chunk.SetLocation(a.Location(node))
	defer g.chunk.SetLocation(previousLoc)

	switch a.Kind(node) {
	case ast.Nil:
		g.chunk.Push(bytecode.PushNil)
	case ast.True:
		g.chunk.Push(bytecode.PushTrue)
	case ast.False:
		g.chunk.Push(bytecode.PushFalse)
	case ast.Number:
		n, _ := a.Number(node)
		g.chunk.PushNumber(n)
	case ast.String:
		s, _ := a.String(node)
		g.chunk.PushString(s)
	case ast.Identifier:
		return g.generateVariable(a, node)
	case ast.Negate, ast.Not:
		return g.generateUnary(a, node)
	case ast.Add, ast.Subtract, ast.Multiply, ast.Divide,
		ast.Equal, ast.NotEqual, ast.Less, ast.Greater, ast.LessEqual, ast.GreaterEqual:
		return g.generateBinary(a, node)
	case ast.And:
		return g.generateAnd(a, node)
	case ast.Or:
		return g.generateOr(a, node)
	case ast.Assign:
		return g.generateAssignment(a, node)
	case ast.Main:
		children, _ := a.Children(node)
		return g.generateNodeList(a, children)
	case ast.Do:
		return g.generateDo(a, node)
	case ast.If:
		return g.generateIf(a, node)
	case ast.While:
		return g.generateWhile(a, node)
	case ast.Break:
		return g.generateBreak(a, node)
	case ast.Func:
		return g.generateFunction(a, node)
	case ast.Call:
		return g.generateCall(a, node)
	case ast.MethodCall:
		return g.generateMethodCall(a, node)
	case ast.Return:
		return g.generateReturn(a, node)
	default:
		panic("codegen: unexpected node kind " + a.Kind(node).String())
	}
	return nil
}
