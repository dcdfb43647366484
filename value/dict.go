package value

import "github.com/dolthub/swiss"

// Dict is a mutable hash map from Value to Value, backed by a swiss table
// rather than a plain Go map: open addressing keeps the hot dict path fast
// for an embedded scripting VM, and the map can be sized up front.
type Dict struct {
	m *swiss.Map[Value, Value]
}

// NewDictObject returns a dict with initial capacity for at least size
// entries.
func NewDictObject(size int) *Dict {
	if size < 1 {
		size = 1
	}
	return &Dict{m: swiss.NewMap[Value, Value](uint32(size))}
}

func (d *Dict) Len() int { return int(d.m.Count()) }

func (d *Dict) Get(k Value) (Value, bool) {
	return d.m.Get(k)
}

func (d *Dict) Set(k, v Value) {
	d.m.Put(k, v)
}

func (d *Dict) Delete(k Value) bool {
	return d.m.Delete(k)
}

func (d *Dict) equalTo(other *Dict) bool {
	if d == other {
		return true
	}
	if d.Len() != other.Len() {
		return false
	}
	equal := true
	d.m.Iter(func(k, v Value) bool {
		ov, ok := other.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
			return true
		}
		return false
	})
	return equal
}

// Entries returns a snapshot of the dict's (key, value) pairs in
// unspecified order. swiss.Map only exposes iteration via a visiting
// callback (Iter), not a standalone cursor, so Entries copies the pairs
// out into a slice a caller can range over.
func (d *Dict) Entries() []DictEntry {
	entries := make([]DictEntry, 0, d.Len())
	d.m.Iter(func(k, v Value) bool {
		entries = append(entries, DictEntry{Key: k, Value: v})
		return false
	})
	return entries
}

// DictEntry is one (key, value) pair of a Dict, as returned by Entries.
type DictEntry struct {
	Key   Value
	Value Value
}
