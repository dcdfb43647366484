// Package ast defines the shape of the abstract syntax tree consumed by the
// code generator. Mica does not ship a lexer or parser: a host front end
// (or, in tests, the Builder in this package) constructs an Ast and hands it
// to codegen.Generate. Only the contract below matters to the rest of the
// runtime.
package ast

// NodeKind identifies what a Node represents. The code generator switches
// on this to decide how to interpret a node's Pair and Children.
type NodeKind uint8

const (
	// Empty must never reach the code generator; it exists so the zero value
	// of NodeKind is not a meaningful node.
	Empty NodeKind = iota

	Nil
	True
	False
	Number
	String
	Identifier

	Negate
	Not

	Add
	Subtract
	Multiply
	Divide

	Equal
	NotEqual
	Less
	Greater
	LessEqual
	GreaterEqual

	And
	Or

	Assign

	Main
	Do

	If
	IfBranch
	ElseBranch
	While
	Break

	Func
	Parameters
	Call
	MethodCall
	Return
)

var nodeKindNames = [...]string{
	Empty:        "empty",
	Nil:          "nil",
	True:         "true",
	False:        "false",
	Number:       "number",
	String:       "string",
	Identifier:   "identifier",
	Negate:       "negate",
	Not:          "not",
	Add:          "add",
	Subtract:     "subtract",
	Multiply:     "multiply",
	Divide:       "divide",
	Equal:        "equal",
	NotEqual:     "not_equal",
	Less:         "less",
	Greater:      "greater",
	LessEqual:    "less_equal",
	GreaterEqual: "greater_equal",
	And:          "and",
	Or:           "or",
	Assign:       "assign",
	Main:         "main",
	Do:           "do",
	If:           "if",
	IfBranch:     "if_branch",
	ElseBranch:   "else_branch",
	While:        "while",
	Break:        "break",
	Func:         "func",
	Parameters:   "parameters",
	Call:         "call",
	MethodCall:   "method_call",
	Return:       "return",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) && nodeKindNames[k] != "" {
		return nodeKindNames[k]
	}
	return "invalid node kind"
}

// NodeId is an index into an Ast's node tables. A Builder numbers nodes
// from zero in the order they are added, so the zero value is the first
// node built; callers obtain NodeIds from a Builder or from a front end
// that produces them.
type NodeId uint32

// Location pinpoints a node in source, for diagnostics and stack traces.
type Location struct {
	ModuleName string
	Line       int
	Column     int
}

// Ast is an immutable, already-resolved syntax tree: every node has a kind,
// an optional pair of child node ids (whose meaning depends on the kind), an
// optional list of child node ids, and an optional literal payload (string
// or number). Construct one with a Builder.
type Ast struct {
	kinds     []NodeKind
	pairs     [][2]NodeId
	children  [][]NodeId
	strings   []string
	hasString []bool
	numbers   []float64
	hasNumber []bool
	locations []Location
}

// Kind returns the kind of the given node.
func (a *Ast) Kind(node NodeId) NodeKind {
	return a.kinds[node]
}

// NodePair returns the node's pair of auxiliary child ids. Which slot is
// populated (and whether both are) depends on the node's kind; see the
// codegen package for how each kind interprets it.
func (a *Ast) NodePair(node NodeId) (NodeId, NodeId) {
	p := a.pairs[node]
	return p[0], p[1]
}

// Children returns the node's child list, or (nil, false) if the node has
// none.
func (a *Ast) Children(node NodeId) ([]NodeId, bool) {
	c := a.children[node]
	return c, c != nil
}

// String returns the node's string literal payload, or ("", false) if it
// has none.
func (a *Ast) String(node NodeId) (string, bool) {
	if int(node) >= len(a.hasString) || !a.hasString[node] {
		return "", false
	}
	return a.strings[node], true
}

// Number returns the node's number literal payload, or (0, false) if it has
// none.
func (a *Ast) Number(node NodeId) (float64, bool) {
	if int(node) >= len(a.hasNumber) || !a.hasNumber[node] {
		return 0, false
	}
	return a.numbers[node], true
}

// Location returns the source location of the given node.
func (a *Ast) Location(node NodeId) Location {
	return a.locations[node]
}
