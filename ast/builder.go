package ast

// Builder constructs an Ast node by node. It is the only way to produce an
// Ast in this module, since the lexer and parser that would normally drive
// it are out of scope here; front ends and tests call these methods
// directly, in the same spirit as the asm package's textual format stands
// in for a missing parser front end.
type Builder struct {
	ast        Ast
	moduleName string
}

// NewBuilder creates a Builder for a module with the given name, used to
// stamp locations.
func NewBuilder(moduleName string) *Builder {
	return &Builder{moduleName: moduleName}
}

func (b *Builder) push(kind NodeKind, line, column int) NodeId {
	id := NodeId(len(b.ast.kinds))
	b.ast.kinds = append(b.ast.kinds, kind)
	b.ast.pairs = append(b.ast.pairs, [2]NodeId{})
	b.ast.children = append(b.ast.children, nil)
	b.ast.strings = append(b.ast.strings, "")
	b.ast.hasString = append(b.ast.hasString, false)
	b.ast.numbers = append(b.ast.numbers, 0)
	b.ast.hasNumber = append(b.ast.hasNumber, false)
	b.ast.locations = append(b.ast.locations, Location{ModuleName: b.moduleName, Line: line, Column: column})
	return id
}

// Leaf adds a node with no pair, children, or literal (Nil, True, False,
// Break-less placeholders, etc).
func (b *Builder) Leaf(kind NodeKind, line, column int) NodeId {
	return b.push(kind, line, column)
}

// NumberLiteral adds a Number node.
func (b *Builder) NumberLiteral(value float64, line, column int) NodeId {
	id := b.push(Number, line, column)
	b.ast.numbers[id] = value
	b.ast.hasNumber[id] = true
	return id
}

// StringLiteral adds a String node.
func (b *Builder) StringLiteral(value string, line, column int) NodeId {
	id := b.push(String, line, column)
	b.ast.strings[id] = value
	b.ast.hasString[id] = true
	return id
}

// Ident adds an Identifier node referring to name.
func (b *Builder) Ident(name string, line, column int) NodeId {
	id := b.push(Identifier, line, column)
	b.ast.strings[id] = name
	b.ast.hasString[id] = true
	return id
}

// Unary adds a unary-operator node (Negate or Not) wrapping operand.
func (b *Builder) Unary(kind NodeKind, operand NodeId, line, column int) NodeId {
	id := b.push(kind, line, column)
	b.ast.pairs[id] = [2]NodeId{operand, 0}
	return id
}

// Binary adds a binary-operator node.
func (b *Builder) Binary(kind NodeKind, left, right NodeId, line, column int) NodeId {
	id := b.push(kind, line, column)
	b.ast.pairs[id] = [2]NodeId{left, right}
	return id
}

// Assign adds an assignment node: target := value.
func (b *Builder) Assign(target, value NodeId, line, column int) NodeId {
	id := b.push(Assign, line, column)
	b.ast.pairs[id] = [2]NodeId{target, value}
	return id
}

// NodeList adds a node that simply carries a list of child nodes (Main, Do).
func (b *Builder) NodeList(kind NodeKind, children []NodeId, line, column int) NodeId {
	id := b.push(kind, line, column)
	if children == nil {
		children = []NodeId{}
	}
	b.ast.children[id] = children
	return id
}

// IfBranch adds a single `if`/`elif` branch: condition, then a body.
func (b *Builder) IfBranch(condition NodeId, body []NodeId, line, column int) NodeId {
	id := b.push(IfBranch, line, column)
	b.ast.pairs[id] = [2]NodeId{condition, 0}
	if body == nil {
		body = []NodeId{}
	}
	b.ast.children[id] = body
	return id
}

// ElseBranch adds a trailing `else` branch.
func (b *Builder) ElseBranch(body []NodeId, line, column int) NodeId {
	id := b.push(ElseBranch, line, column)
	if body == nil {
		body = []NodeId{}
	}
	b.ast.children[id] = body
	return id
}

// If adds an if-expression out of branches produced by IfBranch/ElseBranch.
func (b *Builder) If(branches []NodeId, line, column int) NodeId {
	return b.NodeList(If, branches, line, column)
}

// While adds a while-loop: condition, then a body.
func (b *Builder) While(condition NodeId, body []NodeId, line, column int) NodeId {
	id := b.push(While, line, column)
	b.ast.pairs[id] = [2]NodeId{condition, 0}
	if body == nil {
		body = []NodeId{}
	}
	b.ast.children[id] = body
	return id
}

// Break adds a `break expr` node.
func (b *Builder) Break(value NodeId, line, column int) NodeId {
	id := b.push(Break, line, column)
	b.ast.pairs[id] = [2]NodeId{value, 0}
	return id
}

// Parameters adds a parameter list node; each child is an Identifier.
func (b *Builder) Parameters(names []NodeId, line, column int) NodeId {
	return b.NodeList(Parameters, names, line, column)
}

// Func adds a function declaration or literal. name may be the zero NodeId
// (anonymous function), otherwise it must be an Identifier produced by Ident.
func (b *Builder) Func(name NodeId, hasName bool, parameters NodeId, body []NodeId, line, column int) NodeId {
	id := b.push(Func, line, column)
	pair := [2]NodeId{0, parameters}
	if hasName {
		pair[0] = name
	} else {
		// A func node with no name stores the NoName sentinel in its first
		// pair slot; FuncName compares against it, which keeps an unnamed
		// func distinct from one whose name is NodeId(0).
		pair[0] = NodeId(^uint32(0))
	}
	b.ast.pairs[id] = pair
	if body == nil {
		body = []NodeId{}
	}
	b.ast.children[id] = body
	return id
}

// Call adds a function call: callee, then arguments.
func (b *Builder) Call(callee NodeId, arguments []NodeId, line, column int) NodeId {
	id := b.push(Call, line, column)
	b.ast.pairs[id] = [2]NodeId{callee, 0}
	if arguments == nil {
		arguments = []NodeId{}
	}
	b.ast.children[id] = arguments
	return id
}

// MethodCall adds a `receiver.name(arguments...)` node: the receiver is
// evaluated first, then each argument left to right, matching Call's
// evaluation order. name is stored as the node's string literal payload,
// the way Identifier and StringLiteral store theirs.
func (b *Builder) MethodCall(receiver NodeId, name string, arguments []NodeId, line, column int) NodeId {
	id := b.push(MethodCall, line, column)
	b.ast.pairs[id] = [2]NodeId{receiver, 0}
	b.ast.strings[id] = name
	b.ast.hasString[id] = true
	if arguments == nil {
		arguments = []NodeId{}
	}
	b.ast.children[id] = arguments
	return id
}

// Return adds a `return expr` node. hasValue distinguishes a bare `return`
// from `return expr`; when false, value is ignored.
func (b *Builder) Return(value NodeId, hasValue bool, line, column int) NodeId {
	id := b.push(Return, line, column)
	if hasValue {
		b.ast.pairs[id] = [2]NodeId{value, 1}
	} else {
		b.ast.pairs[id] = [2]NodeId{value, 0}
	}
	return id
}

// Build finalizes and returns the constructed Ast.
func (b *Builder) Build() *Ast {
	return &b.ast
}

// NoName is the sentinel used for Func nodes to mean "no name was given".
// Callers that need to check it can compare the first element of NodePair
// against this value, but codegen provides FuncName for convenience.
const NoName = NodeId(^uint32(0))

// FuncName returns the name identifier of a Func node and whether it has one.
func (a *Ast) FuncName(node NodeId) (NodeId, bool) {
	name, _ := a.NodePair(node)
	if name == NoName {
		return 0, false
	}
	return name, true
}
