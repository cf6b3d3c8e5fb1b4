// Package vnode implements the two tree node variants — Branch and Leaf —
// and the special-sparse virtual leaf that rides entirely inside a NodeRef.
package vnode

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
)

// Branch is an interior node: between 2 and MaxBranch children, each paired
// with the exact byte count of its subtree, separated by the key of the
// leftmost leaf reachable through the child to its right.
//
// Keys[i] (0-indexed) is the separator between Children[i] and
// Children[i+1], i.e. it equals spec's "branch.key[i+1]" in 1-indexed form.
// len(Keys) == len(Children)-1 always.
type Branch struct {
	Frozen   bool
	Children []noderef.Ref
	Counts   []uint64 // subtreeByteCount per child
	Keys     []vkey.Key
}

// NewBranch builds a blank mutable branch with exactly two children.
func NewBranch(child1 noderef.Ref, cnt1 uint64, key vkey.Key, child2 noderef.Ref, cnt2 uint64) *Branch {
	return &Branch{
		Children: []noderef.Ref{child1, child2},
		Counts:   []uint64{cnt1, cnt2},
		Keys:     []vkey.Key{key},
	}
}

// ChildCount returns the number of children.
func (b *Branch) ChildCount() int { return len(b.Children) }

// TotalBytes returns the sum of every child's subtree byte count, the
// left-hand side of the sum-law invariant.
func (b *Branch) TotalBytes() uint64 {
	var sum uint64
	for _, c := range b.Counts {
		sum += c
	}
	return sum
}

// SearchFirst returns the child index to descend into for the leftmost
// occurrence of key. If Keys[i-1] == key, returns -(i) to signal that both
// the left and right subtrees around that separator may hold matches.
func (b *Branch) SearchFirst(key vkey.Key) int {
	lo, hi := 0, len(b.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if vkey.Compare(b.Keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(b.Keys) && vkey.Equal(b.Keys[lo], key) {
		return -(lo + 1)
	}
	return lo
}

// SearchLast returns the rightmost child index whose separator still
// permits key, i.e. the child index to descend into for the rightmost
// occurrence of key.
func (b *Branch) SearchLast(key vkey.Key) int {
	lo, hi := 0, len(b.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if vkey.Compare(b.Keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ChildAtOffset locates the child whose byte range contains offset among
// the children that carry key. On an exact boundary, the separator key
// breaks the tie: go left when the boundary key compares strictly greater
// than the query key, else go right.
func (b *Branch) ChildAtOffset(key vkey.Key, offset uint64) (childIndex int, relOffset uint64) {
	var consumed uint64
	for i := range b.Children {
		c := b.Counts[i]
		if offset < consumed+c {
			return i, offset - consumed
		}
		if offset == consumed+c {
			if i+1 < len(b.Children) {
				if vkey.Compare(b.Keys[i], key) > 0 {
					return i, offset - consumed
				}
				continue
			}
			return i, offset - consumed
		}
		consumed += c
	}
	last := len(b.Children) - 1
	return last, offset - (consumed - b.Counts[last])
}

// LocateKeyOffset finds the child holding byte offset within the run of
// children that carry key, anchoring the search at the first child
// SearchFirst identifies for key rather than at the branch's own start —
// the leaves invariant (one key's leaves are contiguous along the leaf
// chain) guarantees that run starts there. Used by setupForPosition to
// resolve a (key, key-local position) pair into a child to descend into.
func (b *Branch) LocateKeyOffset(key vkey.Key, offset uint64) (childIndex int, relOffset uint64) {
	start := b.SearchFirst(key)
	if start < 0 {
		start = -start - 1
	}
	if start >= len(b.Children) {
		start = len(b.Children) - 1
	}
	var consumed uint64
	for i := start; i < len(b.Children); i++ {
		c := b.Counts[i]
		if offset < consumed+c {
			return i, offset - consumed
		}
		if offset == consumed+c {
			if i+1 < len(b.Children) && vkey.Compare(b.Keys[i], key) <= 0 {
				consumed += c
				continue
			}
			return i, offset - consumed
		}
		consumed += c
	}
	return len(b.Children) - 1, offset - consumed + b.Counts[len(b.Children)-1]
}

// Insert stores child1 at position at and splices a new separator key and
// second child right after it, growing the branch by one child.
func (b *Branch) Insert(at int, child1 noderef.Ref, cnt1 uint64, key vkey.Key, child2 noderef.Ref, cnt2 uint64) {
	b.Children[at] = child1
	b.Counts[at] = cnt1
	b.Children = append(b.Children, noderef.Nil)
	copy(b.Children[at+2:], b.Children[at+1:])
	b.Children[at+1] = child2

	b.Counts = append(b.Counts, 0)
	copy(b.Counts[at+2:], b.Counts[at+1:])
	b.Counts[at+1] = cnt2

	b.Keys = append(b.Keys, vkey.Key{})
	copy(b.Keys[at+1:], b.Keys[at:])
	b.Keys[at] = key
}

// RemoveChild drops child i and its adjacent separator: the right key when
// i==0, else the left key.
func (b *Branch) RemoveChild(i int) {
	b.Children = append(b.Children[:i], b.Children[i+1:]...)
	b.Counts = append(b.Counts[:i], b.Counts[i+1:]...)
	if i == 0 {
		if len(b.Keys) > 0 {
			b.Keys = b.Keys[1:]
		}
		return
	}
	ki := i - 1
	b.Keys = append(b.Keys[:ki], b.Keys[ki+1:]...)
}

// MoveLastHalfInto splits a full branch, moving its upper half into dest
// (assumed blank). The midpoint separator key is consumed here and
// returned for the caller to propagate to the parent.
func (b *Branch) MoveLastHalfInto(dest *Branch) (midKey vkey.Key) {
	n := len(b.Children)
	mid := n / 2
	midKey = b.Keys[mid-1]

	dest.Children = append(dest.Children, b.Children[mid:]...)
	dest.Counts = append(dest.Counts, b.Counts[mid:]...)
	dest.Keys = append(dest.Keys, b.Keys[mid:]...)

	b.Children = b.Children[:mid]
	b.Counts = b.Counts[:mid]
	b.Keys = b.Keys[:mid-1]
	return midKey
}

// MergeLeft moves count children from the front of the right-hand receiver
// into b (the left sibling), consuming midKey as the new internal
// separator; it returns the replacement midpoint that the caller must
// install between the two siblings, or reports that nothing was moved via
// ok=false.
func (b *Branch) MergeLeft(right *Branch, midKey vkey.Key, count int) (newMidKey vkey.Key, ok bool) {
	if count <= 0 || count >= len(right.Children) {
		return midKey, false
	}
	b.Keys = append(b.Keys, midKey)
	b.Children = append(b.Children, right.Children[:count]...)
	b.Counts = append(b.Counts, right.Counts[:count]...)
	b.Keys = append(b.Keys, right.Keys[:count-1]...)

	newMidKey = right.Keys[count-1]

	right.Children = right.Children[count:]
	right.Counts = right.Counts[count:]
	right.Keys = right.Keys[count:]
	return newMidKey, true
}

// Merge fully absorbs right into b, reinstating midKey as the separator
// between the formerly-distinct child sets. Caller must only invoke this
// when the combined child count fits within MaxBranch.
func (b *Branch) Merge(right *Branch, midKey vkey.Key) {
	b.Keys = append(b.Keys, midKey)
	b.Children = append(b.Children, right.Children...)
	b.Counts = append(b.Counts, right.Counts...)
	b.Keys = append(b.Keys, right.Keys...)
}

// Clone returns a heap-resident, mutable copy suitable for installing in
// place of a frozen branch during unfreeze.
func (b *Branch) Clone() *Branch {
	out := &Branch{
		Frozen:   false,
		Children: append([]noderef.Ref(nil), b.Children...),
		Counts:   append([]uint64(nil), b.Counts...),
		Keys:     append([]vkey.Key(nil), b.Keys...),
	}
	return out
}

// IsUnderflowing reports whether b has fewer children than a non-root
// branch is allowed to carry.
func (b *Branch) IsUnderflowing(maxBranch int) bool {
	return len(b.Children) < maxBranch/2
}

// IsFull reports whether b has reached maxBranch children and must split
// before another insertion.
func (b *Branch) IsFull(maxBranch int) bool {
	return len(b.Children) >= maxBranch
}
