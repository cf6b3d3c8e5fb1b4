package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vnode"
)

// WriteEntry names one heap node due to be flushed to the store.
type WriteEntry struct {
	LocalID uint64
	Branch  *vnode.Branch // set when this entry is a branch
	Leaf    *vnode.Leaf   // set when this entry is a leaf
}

// PendingLink names one branch child slot that still points into the heap
// and must be patched to a store reference once the store has allocated
// one for ChildLocalID.
type PendingLink struct {
	BranchLocalID uint64
	ChildIndex    int
	ChildLocalID  uint64
}

// WriteSequence is the flush plan for one dirty subtree: every reachable
// heap node, plus the forward references among them that can only be
// resolved once the store has handed out concrete references.
type WriteSequence struct {
	Root    noderef.Ref // the heap ref this sequence was built from
	Entries []WriteEntry
	Links   []PendingLink
}

// BuildWriteSequence linearizes every heap node reachable from root,
// grounded on the contract that the heap forms a tree (no node is shared
// by two heap parents, since a transaction's mutations only ever branch
// via unfreeze-then-copy). Root must itself be a heap reference.
func BuildWriteSequence(heap *NodeHeap, root noderef.Ref) *WriteSequence {
	seq := &WriteSequence{Root: root}
	visited := make(map[uint64]bool)
	var walk func(ref noderef.Ref)
	walk = func(ref noderef.Ref) {
		if !ref.IsHeap() {
			return
		}
		id := ref.HeapID()
		if visited[id] {
			return
		}
		visited[id] = true

		if b := heap.Branch(ref); b != nil {
			seq.Entries = append(seq.Entries, WriteEntry{LocalID: id, Branch: b})
			for i, child := range b.Children {
				if child.IsHeap() {
					seq.Links = append(seq.Links, PendingLink{
						BranchLocalID: id,
						ChildIndex:    i,
						ChildLocalID:  child.HeapID(),
					})
				}
				walk(child)
			}
			return
		}
		if l := heap.Leaf(ref); l != nil {
			seq.Entries = append(seq.Entries, WriteEntry{LocalID: id, Leaf: l})
		}
	}
	walk(root)
	return seq
}
