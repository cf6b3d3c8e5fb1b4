package vnode

import "vtree/pkg/noderef"

// MaxSparseLen is the largest run a special-sparse leaf can represent,
// fixed by the 16-bit length field packed into the node reference.
const MaxSparseLen = 65535

// SparseLeaf materializes the virtual leaf encoded in a sparse NodeRef: N
// copies of one byte, with no backing store area. It satisfies reads the
// same way an explicit Leaf of identical content would (spec's sparse
// equivalence property), but any attempted mutation must first be promoted
// to a real Leaf by the caller — SparseLeaf itself has no Put/Shift.
type SparseLeaf struct {
	Byte byte
	Len  int
}

// FromRef decodes a sparse NodeRef into a SparseLeaf view. Panics if ref is
// not sparse; callers must check noderef.Ref.IsSparse first.
func FromRef(ref noderef.Ref) SparseLeaf {
	if !ref.IsSparse() {
		panic("vnode: FromRef called on a non-sparse reference")
	}
	return SparseLeaf{Byte: ref.SparseByte(), Len: int(ref.SparseLen())}
}

// Ref encodes s back into a NodeRef, or reports ok=false if s.Len exceeds
// MaxSparseLen and must be represented as a real Leaf instead.
func (s SparseLeaf) Ref() (noderef.Ref, bool) {
	if s.Len < 0 || s.Len > MaxSparseLen {
		return noderef.Nil, false
	}
	return noderef.Sparse(s.Byte, uint16(s.Len)), true
}

// Get fills buf[off:off+n] with s.Byte, matching Leaf.Get's signature for
// callers that treat sparse and explicit leaves uniformly.
func (s SparseLeaf) Get(pos int, buf []byte, off, n int) {
	for i := 0; i < n; i++ {
		buf[off+i] = s.Byte
	}
	_ = pos // a sparse leaf's content does not depend on position
}

// Materialize expands s into a real, heap-resident Leaf of the given
// capacity — used whenever a caller must mutate what was a sparse run.
func (s SparseLeaf) Materialize(capacity int) *Leaf {
	l := NewLeaf(capacity)
	for i := 0; i < s.Len && i < capacity; i++ {
		l.Data[i] = s.Byte
	}
	l.Size = s.Len
	return l
}

// CanRepresent reports whether a run of length n filled entirely with b can
// be represented as a special-sparse leaf instead of an explicit one.
func CanRepresent(n int) bool { return n >= 0 && n <= MaxSparseLen }
