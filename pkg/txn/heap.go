package txn

import (
	"container/list"

	"vtree/pkg/noderef"
	"vtree/pkg/vnode"
)

// heapNode is one entry in a transaction's node heap: exactly one of
// Branch or Leaf is set, mirroring the tree's two-variant node model.
type heapNode struct {
	branch *vnode.Branch
	leaf   *vnode.Leaf
}

func (h *heapNode) sizeBytes() int64 {
	if h.branch != nil {
		return int64(40 + len(h.branch.Children)*24)
	}
	return int64(len(h.leaf.Data))
}

// NodeHeap is the per-transaction scratch arena for mutable nodes. It
// tracks estimated usage against capacityBytes (see OverCapacity) but never
// evicts — heap nodes are live working state, not a cache, so there is
// nothing safe to evict. Its nodes leave only through Free, e.g. after
// Transaction.CheckOut has flushed them into the store.
type NodeHeap struct {
	nodes         map[uint64]*heapNode
	order         *list.List // insertion order, as listed by idsInOrder
	elements      map[uint64]*list.Element
	nextID        uint64
	used          int64
	capacityBytes int64
}

// NewNodeHeap creates an empty heap bounded by capacityBytes.
func NewNodeHeap(capacityBytes int64) *NodeHeap {
	return &NodeHeap{
		nodes:         make(map[uint64]*heapNode),
		order:         list.New(),
		elements:      make(map[uint64]*list.Element),
		nextID:        1,
		capacityBytes: capacityBytes,
	}
}

func (h *NodeHeap) alloc(n *heapNode) noderef.Ref {
	id := h.nextID
	h.nextID++
	h.nodes[id] = n
	h.elements[id] = h.order.PushBack(id)
	h.used += n.sizeBytes()
	return noderef.Heap(id)
}

// AllocBranch installs a new mutable branch in the heap and returns its
// heap reference.
func (h *NodeHeap) AllocBranch(b *vnode.Branch) noderef.Ref {
	return h.alloc(&heapNode{branch: b})
}

// AllocLeaf installs a new mutable leaf in the heap and returns its heap
// reference.
func (h *NodeHeap) AllocLeaf(l *vnode.Leaf) noderef.Ref {
	return h.alloc(&heapNode{leaf: l})
}

// Branch returns the heap-resident branch at ref, or nil if ref does not
// address a live branch in this heap.
func (h *NodeHeap) Branch(ref noderef.Ref) *vnode.Branch {
	n, ok := h.nodes[ref.HeapID()]
	if !ok {
		return nil
	}
	return n.branch
}

// Leaf returns the heap-resident leaf at ref, or nil if ref does not
// address a live leaf in this heap.
func (h *NodeHeap) Leaf(ref noderef.Ref) *vnode.Leaf {
	n, ok := h.nodes[ref.HeapID()]
	if !ok {
		return nil
	}
	return n.leaf
}

// Free removes a heap node, e.g. after it has been flushed to the store or
// discarded mid-mutation (a leaf consumed by a merge).
func (h *NodeHeap) Free(ref noderef.Ref) {
	id := ref.HeapID()
	n, ok := h.nodes[id]
	if !ok {
		return
	}
	h.used -= n.sizeBytes()
	if el, ok := h.elements[id]; ok {
		h.order.Remove(el)
		delete(h.elements, id)
	}
	delete(h.nodes, id)
}

// OverCapacity reports whether the heap's estimated usage has crossed its
// configured cap, the trigger for an early flush during a long-running
// transaction.
func (h *NodeHeap) OverCapacity() bool { return h.used > h.capacityBytes }

// UsedBytes reports current estimated heap usage.
func (h *NodeHeap) UsedBytes() int64 { return h.used }

// idsInOrder returns every live local id in insertion order. The write
// sequencer does not use it; it numbers nodes by walking the tree.
func (h *NodeHeap) idsInOrder() []uint64 {
	ids := make([]uint64, 0, h.order.Len())
	for el := h.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(uint64))
	}
	return ids
}
