// Package value implements Mica's runtime value representation: the
// portable encoding described in the design notes, plus the heap-resident
// object types a Value can refer to (closures, structs, traits, lists,
// dicts, user data) and the dispatch tables used for method lookup.
package value

import "fmt"

// Kind identifies the semantic type of a Value. True and False both report
// Boolean: they're kept as separate internal discriminants (see
// discriminant) purely so the zero-allocation singleton representation
// mirrors the variant list in the data model one-to-one, but callers never
// need to distinguish them by Kind.
type Kind uint8

const (
	KindNil Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindFunction
	KindStruct
	KindTrait
	KindList
	KindDict
	KindUserData
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBoolean:  "boolean",
	KindNumber:   "number",
	KindString:   "string",
	KindFunction: "function",
	KindStruct:   "struct",
	KindTrait:    "trait",
	KindList:     "list",
	KindDict:     "dict",
	KindUserData: "user_data",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("invalid kind (%d)", k)
}

// discriminant is the internal tag, kept distinct from Kind so Nil/False/True
// remain separate zero-payload variants, matching the data model's Value
// enum one-to-one.
type discriminant uint8

const (
	dNil discriminant = iota
	dFalse
	dTrue
	dNumber
	dString
	dFunction
	dStruct
	dTrait
	dList
	dDict
	dUserData
)
