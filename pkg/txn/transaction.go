// Package txn implements the transactional view over the tree: the node
// heap, the path stack that drives every positional mutation, the write
// sequencer that linearizes a dirty subtree for flushing, and the
// DataFile/DataRange contracts layered on top.
package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
	"vtree/pkg/vtreeerr"
)

// StoreBridge is the narrow slice of TreeSystem a Transaction needs:
// fetching immutable nodes, leaf reference counting, and flushing a write
// sequence. Kept as an interface here (rather than importing treesystem
// directly) so the dependency runs one way only: treesystem imports txn,
// never the reverse.
type StoreBridge interface {
	// FetchNode returns the branch or leaf addressed by ref (store-
	// resident only; heap and sparse refs never reach this call).
	// Exactly one of the two return nodes is non-nil.
	FetchNode(ref noderef.Ref) (*vnode.Branch, *vnode.Leaf, error)
	LinkLeaf(ref noderef.Ref) (bool, error)
	DisposeNode(ref noderef.Ref) error
	Flush(seq *WriteSequence) (map[uint64]noderef.Ref, error)
	MaxBranch() int
	MaxLeaf() int
}

// Transaction is a snapshot view plus a mutation log. It is not safe for
// concurrent use by multiple goroutines: every cursor and DataFile derived
// from one Transaction shares its path stack, node heap, and bookkeeping.
type Transaction struct {
	System   StoreBridge
	VersionID uint64
	RootRef  noderef.Ref
	Heap     *NodeHeap
	ReadOnly bool

	// DeletedLeaves accumulates store-resident leaf refs unlinked by this
	// transaction's mutations; on commit these become the new version
	// record's deletedLeaves list.
	DeletedLeaves []noderef.Ref

	// InsertedAreas accumulates store areas this transaction allocated
	// via Flush, so dispose() can roll them back if never committed.
	InsertedAreas []noderef.Ref

	// updateVersion increments on every mutation; DataFile/DataRange
	// cursors cache their bounds against it.
	updateVersion uint64

	// lowestSizeChangedKey is the watermark below which no cursor bounds
	// recomputation is needed even if updateVersion has advanced.
	lowestSizeChangedKey vkey.Key
	hasWatermark          bool

	stack *pathStack
}

// New constructs a transaction snapshotting rootRef at versionID against
// system. heapCapacityBytes is the cap Heap.OverCapacity and maybeAutoFlush
// test against; no mutation path calls maybeAutoFlush, so the heap is
// flushed into the store only by CheckOut.
func New(system StoreBridge, versionID uint64, rootRef noderef.Ref, heapCapacityBytes int64, readOnly bool) *Transaction {
	t := &Transaction{
		System:    system,
		VersionID: versionID,
		RootRef:   rootRef,
		Heap:      NewNodeHeap(heapCapacityBytes),
		ReadOnly:  readOnly,
	}
	t.stack = newPathStack(t)
	return t
}

func (t *Transaction) requireWritable() error {
	if t.ReadOnly {
		return vtreeerr.ErrReadOnly
	}
	return nil
}

// bumpUpdateVersion records that a mutation happened and widens the
// lowest-size-changed watermark to cover key if it is lower than the
// current watermark (or if this is the first mutation).
func (t *Transaction) bumpUpdateVersion(key vkey.Key) {
	t.updateVersion++
	if !t.hasWatermark || vkey.Compare(key, t.lowestSizeChangedKey) < 0 {
		t.lowestSizeChangedKey = key
		t.hasWatermark = true
	}
}

// UpdateVersion returns the transaction's current mutation counter, used
// by DataFile/DataRange to decide whether cached bounds are stale.
func (t *Transaction) UpdateVersion() uint64 { return t.updateVersion }

// LowestSizeChangedKey reports the watermark below which cached bounds
// never need recomputation.
func (t *Transaction) LowestSizeChangedKey() (vkey.Key, bool) {
	return t.lowestSizeChangedKey, t.hasWatermark
}

// recordDeletedLeaf notes that ref (a store-resident leaf) was unlinked by
// this transaction's mutations; disposeNode is not called immediately —
// store refcounting happens at commit via the version's deletedLeaves
// list.
func (t *Transaction) recordDeletedLeaf(ref noderef.Ref) {
	if ref.IsStore() {
		t.DeletedLeaves = append(t.DeletedLeaves, ref)
	}
}

// maybeAutoFlush flushes the dirty subtree into the store once the heap
// crosses its configured cap, replacing RootRef with the resulting store
// reference. Safe to call after any mutation; a no-op when under cap.
func (t *Transaction) maybeAutoFlush() error {
	if !t.Heap.OverCapacity() {
		return nil
	}
	return t.flushRoot()
}

func (t *Transaction) flushRoot() error {
	if !t.RootRef.IsHeap() {
		return nil
	}
	seq := BuildWriteSequence(t.Heap, t.RootRef)
	resolved, err := t.System.Flush(seq)
	if err != nil {
		return err
	}
	t.RootRef = resolved[t.RootRef.HeapID()]
	for _, e := range seq.Entries {
		t.Heap.Free(noderef.Heap(e.LocalID))
	}
	for _, ref := range resolved {
		t.InsertedAreas = append(t.InsertedAreas, ref)
	}
	return nil
}

// CheckOut performs the flush used by commit: it flushes any remaining
// heap-resident root into the store so the returned root reference and
// every node it transitively reaches are store resident, satisfying the
// post-commit invariant. It does not compact or rebalance the tree first.
func (t *Transaction) CheckOut() (noderef.Ref, error) {
	if err := t.flushRoot(); err != nil {
		return noderef.Nil, err
	}
	return t.RootRef, nil
}
