package codegen

import "github.com/liquidev/mica/bytecode"

// variablePlace is where a resolved variable lives.
type variablePlace struct {
	kind placeKind
	slot bytecode.Opr24
}

type placeKind uint8

const (
	placeGlobal placeKind = iota
	placeLocal
	placeUpvalue
)

// variableAllocation distinguishes a parameter (which inherits a stack slot
// the caller already filled) from an ordinary local (which needs one
// allocated for it).
type variableAllocation uint8

const (
	allocInherit variableAllocation = iota
	allocAllocate
)

type variable struct {
	stackSlot  bytecode.Opr24
	allocation variableAllocation
}

// scope maps names to stack slots within one lexical block.
type scope struct {
	variables         map[string]variable
	allocatedVarCount uint32
}

func newScope() *scope {
	return &scope{variables: make(map[string]variable)}
}

// captureSource describes where one of a function's upvalues comes from,
// in terms of the enclosing function's frame: either one of its own local
// stack slots, or — for a variable captured two or more levels up — one of
// the enclosing function's own upvalues (transitive capture). A flat set
// of slot numbers can't distinguish "slot 2 of the enclosing frame" from
// "upvalue 2 of the enclosing closure", which matters the moment a
// variable is captured through more than one level of nesting.
type captureSource struct {
	fromUpvalue bool
	index       uint32
}

// locals tracks one function's lexical scopes, plus a link to the enclosing
// function's locals for upvalue capture.
type locals struct {
	parent *locals

	scopes              []*scope
	localCount          uint32
	allocatedLocalCount uint32

	// captures is this function's own upvalue list, in the order
	// GetUpvalue/AssignUpvalue indices refer to. It becomes the compiled
	// Function's Captures.
	captures []captureSource

	// localSlotToCapture and parentUpvalueToCapture dedupe repeated
	// captures of the same source within one function to the same index.
	localSlotToCapture    map[uint32]uint32
	parentUpvalueToCapture map[uint32]uint32
}

func newLocals(parent *locals) *locals {
	return &locals{
		parent:                 parent,
		localSlotToCapture:     make(map[uint32]uint32),
		parentUpvalueToCapture: make(map[uint32]uint32),
	}
}

func (l *locals) pushScope() {
	l.scopes = append(l.scopes, newScope())
}

func (l *locals) popScope() *scope {
	n := len(l.scopes) - 1
	s := l.scopes[n]
	l.scopes = l.scopes[:n]
	l.localCount -= uint32(len(s.variables))
	l.allocatedLocalCount -= s.allocatedVarCount
	return s
}

func (l *locals) createLocal(name string, allocation variableAllocation) (variablePlace, error) {
	slot, err := bytecode.NewOpr24(l.localCount)
	if err != nil {
		return variablePlace{}, errTooManyLocals
	}
	s := l.scopes[len(l.scopes)-1]
	s.variables[name] = variable{stackSlot: slot, allocation: allocation}
	l.localCount++
	if allocation == allocAllocate {
		l.allocatedLocalCount++
		s.allocatedVarCount++
	}
	return variablePlace{kind: placeLocal, slot: slot}, nil
}

// closeOverLocal records that this function captures one of its own local
// slots into a nested closure, returning the (deduplicated) upvalue index
// the nested closure should use.
func (l *locals) closeOverLocal(slot bytecode.Opr24) (bytecode.Opr24, error) {
	if idx, ok := l.localSlotToCapture[slot.ToU32()]; ok {
		return bytecode.NewOpr24(idx)
	}
	return l.addCapture(captureSource{fromUpvalue: false, index: slot.ToU32()}, l.localSlotToCapture, slot.ToU32())
}

// closeOverUpvalue records that this function re-exposes one of its own
// upvalues to a nested closure (transitive capture).
func (l *locals) closeOverUpvalue(upvalueIndex bytecode.Opr24) (bytecode.Opr24, error) {
	if idx, ok := l.parentUpvalueToCapture[upvalueIndex.ToU32()]; ok {
		return bytecode.NewOpr24(idx)
	}
	return l.addCapture(captureSource{fromUpvalue: true, index: upvalueIndex.ToU32()}, l.parentUpvalueToCapture, upvalueIndex.ToU32())
}

func (l *locals) addCapture(src captureSource, dedupe map[uint32]uint32, key uint32) (bytecode.Opr24, error) {
	index := uint32(len(l.captures))
	op, err := bytecode.NewOpr24(index)
	if err != nil {
		return bytecode.Opr24{}, errTooManyCaptures
	}
	l.captures = append(l.captures, src)
	dedupe[key] = index
	return op, nil
}

// lookup resolves name against this function's scopes, recursing into the
// parent and converting a hit there into a captured upvalue.
func (l *locals) lookup(name string) (variablePlace, bool, error) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if v, ok := l.scopes[i].variables[name]; ok {
			return variablePlace{kind: placeLocal, slot: v.stackSlot}, true, nil
		}
	}
	if l.parent == nil {
		return variablePlace{}, false, nil
	}
	place, ok, err := l.parent.lookup(name)
	if err != nil || !ok {
		return variablePlace{}, false, err
	}
	switch place.kind {
	case placeLocal:
		upvalueSlot, err := l.closeOverLocal(place.slot)
		if err != nil {
			return variablePlace{}, false, err
		}
		return variablePlace{kind: placeUpvalue, slot: upvalueSlot}, true, nil
	case placeUpvalue:
		upvalueSlot, err := l.closeOverUpvalue(place.slot)
		if err != nil {
			return variablePlace{}, false, err
		}
		return variablePlace{kind: placeUpvalue, slot: upvalueSlot}, true, nil
	default:
		panic("codegen: global resolved through locals.lookup")
	}
}
