// Package gc provides the heap-handle types values use to refer to
// reference-counted, heap-resident objects: strings, closures, structs,
// traits, lists, dicts, and user data.
//
// The portable value encoding is the only one implemented in this module
// (see the design notes on the compact/NaN-boxed encoding); because of that,
// Gc[T] does not itself reference-count. Go's garbage collector already
// tracks precise liveness of everything reachable through a Gc[T], which is
// a strictly stronger guarantee than the manual reference counting the
// compact encoding would need to juggle object lifetime across a tagged
// pointer. Gc[T] and GcRaw[T] exist as distinct types purely to mirror the
// strong-handle/unmanaged-view distinction the engine's contracts are
// written against, and to give heap objects a stable identity for
// pointer-equality comparisons (closures, structs).
package gc

// Gc is a strong handle to a heap-allocated T.
type Gc[T any] struct {
	ptr *T
}

// Alloc allocates v on the heap and returns a strong handle to it.
func Alloc[T any](v T) Gc[T] {
	p := new(T)
	*p = v
	return Gc[T]{ptr: p}
}

// Valid reports whether the handle refers to an object (false for the zero
// value of Gc[T]).
func (g Gc[T]) Valid() bool { return g.ptr != nil }

// Get returns a pointer to the held object. Panics if the handle is the zero
// value.
func (g Gc[T]) Get() *T {
	if g.ptr == nil {
		panic("gc: dereferencing a nil Gc handle")
	}
	return g.ptr
}

// Raw returns an unmanaged view of the same object, usable where a handle
// needs to be stored without implying ownership (e.g. inside a value
// payload that never itself "drops" anything under Go's GC).
func (g Gc[T]) Raw() GcRaw[T] { return GcRaw[T]{ptr: g.ptr} }

// Identity returns a value that compares equal for two handles to the same
// underlying object, usable as a map key or for identity comparisons.
func (g Gc[T]) Identity() *T { return g.ptr }

// GcRaw is an unmanaged view of a heap object, reconstituted from a Gc[T]
// via Raw, or directly from a pointer obtained elsewhere in the runtime.
type GcRaw[T any] struct {
	ptr *T
}

// FromRaw constructs a GcRaw from an already-live pointer.
func FromRaw[T any](p *T) GcRaw[T] { return GcRaw[T]{ptr: p} }

// Strong reconstitutes a strong handle from a raw view.
func (g GcRaw[T]) Strong() Gc[T] { return Gc[T]{ptr: g.ptr} }

func (g GcRaw[T]) Get() *T { return g.ptr }

// Heap tracks allocation statistics for diagnostics; it performs no actual
// bookkeeping of object lifetime, since that is Go's collector's job for the
// portable encoding.
type Heap struct {
	allocated uint64
}

// Allocate allocates v and records it for AllocatedObjects.
func Allocate[T any](h *Heap, v T) Gc[T] {
	h.allocated++
	return Alloc(v)
}

// AllocatedObjects returns the number of objects allocated through this
// Heap since creation. It never decreases: there is no finalization hook to
// observe Go-GC'd objects going away, so this is a monotonic counter rather
// than a live-object count.
func (h *Heap) AllocatedObjects() uint64 { return h.allocated }
