package value

import "github.com/liquidev/mica/bytecode"

// Closure is a function value: a reference to a Function recorded in an
// Environment's function table, plus the upvalues it captured at creation
// time, in the order its defining function's captured-locals set was
// declared.
type Closure struct {
	Name       string
	FunctionID bytecode.Opr24
	Captures   []*Upvalue
}
