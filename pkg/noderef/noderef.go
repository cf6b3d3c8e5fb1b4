// Package noderef implements the 128-bit node identity that distinguishes
// a transaction-local heap node from a store-resident node, and carries the
// special-sparse leaf encoding entirely within the reference itself.
package noderef

// Ref is a 128-bit node reference, carried as two 64-bit words so it packs
// directly into a Branch's word array (see vnode.Branch).
//
// Bit layout of Hi:
//
//	bit 63      heapFlag   — 1: the payload indexes a node in the owning transaction's heap
//	bit 62      sparseFlag — 1: this is a special-sparse leaf, fully encoded here
//	bits 0..61  payload    — heap local id, or store area id, depending on heapFlag
//
// When sparseFlag is set, heapFlag is always 0 (a sparse leaf is never
// heap-resident; it never needs mutation in place, only replacement), and
// Lo carries the sparse payload: byte value in bits 16..23, length in bits
// 0..15, consistent with the on-disk sparse encoding of the node reference.
type Ref struct {
	Hi uint64
	Lo uint64
}

const (
	heapFlagBit   = uint64(1) << 63
	sparseFlagBit = uint64(1) << 62
	payloadMask   = sparseFlagBit - 1
)

// Nil is the zero reference; never a valid node identity.
var Nil = Ref{}

// Heap constructs a reference into the owning transaction's node heap.
func Heap(localID uint64) Ref {
	return Ref{Hi: heapFlagBit | (localID & payloadMask)}
}

// Store constructs a reference to a store-resident node by area id.
func Store(areaID uint64) Ref {
	return Ref{Hi: areaID & payloadMask}
}

// Sparse constructs a special-sparse leaf reference: N copies of byte b,
// encoded entirely in the reference with no store area allocated. Length is
// capped at 65535 per the on-disk contract.
func Sparse(b byte, length uint16) Ref {
	return Ref{
		Hi: sparseFlagBit,
		Lo: uint64(b)<<16 | uint64(length),
	}
}

// IsHeap reports whether r addresses the owning transaction's node heap.
func (r Ref) IsHeap() bool { return r.Hi&heapFlagBit != 0 }

// IsSparse reports whether r is a special-sparse leaf.
func (r Ref) IsSparse() bool { return r.Hi&sparseFlagBit != 0 }

// IsStore reports whether r addresses a persisted, non-sparse node.
func (r Ref) IsStore() bool { return !r.IsHeap() && !r.IsSparse() }

// HeapID returns the local heap id; valid only when IsHeap.
func (r Ref) HeapID() uint64 { return r.Hi & payloadMask }

// AreaID returns the store area id; valid only when IsStore.
func (r Ref) AreaID() uint64 { return r.Hi & payloadMask }

// SparseByte and SparseLen decode a special-sparse leaf reference; valid
// only when IsSparse.
func (r Ref) SparseByte() byte   { return byte(r.Lo >> 16) }
func (r Ref) SparseLen() uint16  { return uint16(r.Lo) }

// Equal is bitwise equality over both words: heap and store references
// must never compare equal to each other even if their payload bits
// coincide, which bitwise comparison of Hi naturally guarantees since the
// flag bits differ.
func Equal(a, b Ref) bool { return a.Hi == b.Hi && a.Lo == b.Lo }

// IsNil reports whether r is the zero reference.
func (r Ref) IsNil() bool { return r.Hi == 0 && r.Lo == 0 }
