package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
	"vtree/pkg/vtreeerr"
)

// frame is one descended level: the branch reference, which child was
// chosen, and that child's key-relative starting byte offset.
type frame struct {
	childIndex     int
	leftByteOffset uint64
	ref            noderef.Ref
}

// pathStack is the stack of frames from root to the leaf currently
// addressed, plus the resolved leaf reference and the key-relative
// position within it. One pathStack is owned by exactly one Transaction.
type pathStack struct {
	t       *Transaction
	frames  []frame
	leafRef noderef.Ref
	leafPos uint64
	haveLeaf bool

	// lastMergeLeftRef/lastMergeRightRef carry the possibly-refreshed
	// references produced by the most recent mergeChildren call, since
	// unfreezing either side during the merge may have allocated a new
	// heap reference for it.
	lastMergeLeftRef  noderef.Ref
	lastMergeRightRef noderef.Ref
}

func newPathStack(t *Transaction) *pathStack {
	return &pathStack{t: t}
}

// fetch resolves ref to exactly one of branch/leaf/sparse, regardless of
// whether it is heap-, store-, or sparse-resident.
func (s *pathStack) fetch(ref noderef.Ref) (branch *vnode.Branch, leaf *vnode.Leaf, sparse *vnode.SparseLeaf, err error) {
	if ref.IsSparse() {
		sp := vnode.FromRef(ref)
		return nil, nil, &sp, nil
	}
	if ref.IsHeap() {
		if b := s.t.Heap.Branch(ref); b != nil {
			return b, nil, nil, nil
		}
		if l := s.t.Heap.Leaf(ref); l != nil {
			return nil, l, nil, nil
		}
		return nil, nil, nil, vtreeerr.ErrConsistency
	}
	b, l, err := s.t.System.FetchNode(ref)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, l, nil, nil
}

// leafSize returns the size in bytes of whatever is at ref, whether a real
// or sparse leaf.
func (s *pathStack) leafSize(ref noderef.Ref) (int, error) {
	_, leaf, sparse, err := s.fetch(ref)
	if err != nil {
		return 0, err
	}
	if leaf != nil {
		return leaf.Size, nil
	}
	return sparse.Len, nil
}

// setupForPosition descends from the root following childAtOffset-style
// decisions anchored at key, parking the stack at the leaf (real or
// sparse) that covers key-relative position absPos. Positioning past the
// last leaf of key parks at that leaf's size, for insert-at-end semantics.
func (s *pathStack) setupForPosition(key vkey.Key, absPos uint64) error {
	s.frames = s.frames[:0]
	ref := s.t.RootRef
	pos := absPos

	for {
		branch, leaf, sparse, err := s.fetch(ref)
		if err != nil {
			return err
		}
		if branch == nil {
			s.leafRef = ref
			s.leafPos = pos
			s.haveLeaf = true
			_ = leaf
			_ = sparse
			return nil
		}
		childIdx, relOff := branch.LocateKeyOffset(key, pos)
		s.frames = append(s.frames, frame{childIndex: childIdx, leftByteOffset: pos - relOff, ref: ref})
		ref = branch.Children[childIdx]
		pos = relOff
	}
}

// unfreezeStack walks the stack bottom-up, copying every frozen node
// (including the leaf currently addressed) into the heap and patching each
// parent's child reference, finally updating the transaction's root.
func (s *pathStack) unfreezeStack() error {
	if !s.haveLeaf {
		return vtreeerr.ErrConsistency
	}
	branch, leaf, sparse, err := s.fetch(s.leafRef)
	if err != nil {
		return err
	}
	var newChildRef noderef.Ref
	switch {
	case leaf != nil && leaf.Frozen:
		clone := leaf.Clone()
		newChildRef = s.t.Heap.AllocLeaf(clone)
		s.t.recordDeletedLeaf(s.leafRef)
	case leaf != nil:
		newChildRef = s.leafRef
	case sparse != nil:
		real := sparse.Materialize(s.t.System.MaxLeaf())
		newChildRef = s.t.Heap.AllocLeaf(real)
	default:
		_ = branch
		return vtreeerr.ErrConsistency
	}
	s.leafRef = newChildRef

	for i := len(s.frames) - 1; i >= 0; i-- {
		fr := s.frames[i]
		b, _, _, err := s.fetch(fr.ref)
		if err != nil {
			return err
		}
		if b.Frozen {
			clone := b.Clone()
			clone.Children[fr.childIndex] = newChildRef
			newRef := s.t.Heap.AllocBranch(clone)
			newChildRef = newRef
			s.frames[i].ref = newRef
		} else {
			b.Children[fr.childIndex] = newChildRef
			newChildRef = fr.ref
		}
	}
	s.t.RootRef = newChildRef
	return nil
}

// currentLeaf returns the mutable heap leaf at the stack's current
// position; callers must have called unfreezeStack first.
func (s *pathStack) currentLeaf() (*vnode.Leaf, error) {
	l := s.t.Heap.Leaf(s.leafRef)
	if l == nil {
		return nil, vtreeerr.ErrConsistency
	}
	return l, nil
}

type splitInfo struct {
	sepKey     vkey.Key
	rightRef   noderef.Ref
	rightCount uint64
}

// propagate applies a subtree byte-count delta at every ancestor frame
// and, if pending is non-nil, threads a new sibling (the result of a
// split one level down) into each ancestor in turn, splitting that
// ancestor too if it overflows, until the root is reached — growing tree
// height by one if the root itself must split.
func (s *pathStack) propagate(delta int64, pending *splitInfo) error {
	maxBranch := s.t.System.MaxBranch()

	for i := len(s.frames) - 1; i >= 0; i-- {
		fr := s.frames[i]
		b, _, _, err := s.fetch(fr.ref)
		if err != nil {
			return err
		}
		if delta >= 0 {
			b.Counts[fr.childIndex] += uint64(delta)
		} else {
			b.Counts[fr.childIndex] -= uint64(-delta)
		}
		if pending != nil {
			existingRef := b.Children[fr.childIndex]
			existingCnt := b.Counts[fr.childIndex] - pending.rightCount
			b.Insert(fr.childIndex, existingRef, existingCnt, pending.sepKey, pending.rightRef, pending.rightCount)
			if b.IsFull(maxBranch) {
				sibling := &vnode.Branch{}
				midKey := b.MoveLastHalfInto(sibling)
				siblingRef := s.t.Heap.AllocBranch(sibling)
				pending = &splitInfo{sepKey: midKey, rightRef: siblingRef, rightCount: sibling.TotalBytes()}
			} else {
				pending = nil
			}
		}
	}

	if pending != nil {
		oldRootRef := s.t.RootRef
		oldRootBranch, _, _, err := s.fetch(oldRootRef)
		if err != nil {
			return err
		}
		newRoot := vnode.NewBranch(oldRootRef, oldRootBranch.TotalBytes(), pending.sepKey, pending.rightRef, pending.rightCount)
		s.t.RootRef = s.t.Heap.AllocBranch(newRoot)
	}
	return nil
}

// insertLeaf inserts newLeaf adjacent to the leaf currently addressed by
// the stack, carrying key as its separator value. before selects whether
// the new leaf precedes or follows the current one along the leaf chain.
func (s *pathStack) insertLeaf(key vkey.Key, newLeaf *vnode.Leaf, before bool) error {
	ref := s.t.Heap.AllocLeaf(newLeaf)
	return s.insertLeafRef(key, ref, uint64(newLeaf.Size), before)
}

// insertLeafRef splices an already-resolved leaf reference — a freshly
// allocated heap leaf, or one handed in directly by a caller that resolved
// it itself (the copyFrom leaf-linking fast path, or a sparse run) —
// adjacent to the leaf currently addressed by the stack, carrying key as
// its separator value and size as its byte count.
func (s *pathStack) insertLeafRef(key vkey.Key, ref noderef.Ref, size uint64, before bool) error {
	if len(s.frames) == 0 {
		return vtreeerr.ErrConsistency
	}
	if err := s.unfreezeStack(); err != nil {
		return err
	}
	last := s.frames[len(s.frames)-1]
	branch, _, _, err := s.fetch(last.ref)
	if err != nil {
		return err
	}

	existingRef := branch.Children[last.childIndex]
	existingCnt := branch.Counts[last.childIndex]
	var pending *splitInfo

	if before {
		branch.Insert(last.childIndex, ref, size, key, existingRef, existingCnt)
	} else {
		branch.Insert(last.childIndex, existingRef, existingCnt, key, ref, size)
	}
	if branch.IsFull(s.t.System.MaxBranch()) {
		sibling := &vnode.Branch{}
		midKey := branch.MoveLastHalfInto(sibling)
		siblingRef := s.t.Heap.AllocBranch(sibling)
		pending = &splitInfo{sepKey: midKey, rightRef: siblingRef, rightCount: sibling.TotalBytes()}
	}

	parentFrames := s.frames[:len(s.frames)-1]
	save := s.frames
	s.frames = parentFrames
	err = s.propagate(int64(size), pending)
	s.frames = save
	if err != nil {
		return err
	}
	s.t.bumpUpdateVersion(key)
	return nil
}

// deleteLeaf removes the leaf currently addressed by the stack, updating
// ancestor counts, collapsing empty children, and redistributing with a
// neighboring sibling whenever a branch drops to its minimum occupancy.
func (s *pathStack) deleteLeaf(key vkey.Key) error {
	if len(s.frames) == 0 {
		return vtreeerr.ErrConsistency
	}
	size, err := s.leafSize(s.leafRef)
	if err != nil {
		return err
	}
	if err := s.unfreezeStack(); err != nil {
		return err
	}
	last := s.frames[len(s.frames)-1]
	branch, _, _, err := s.fetch(last.ref)
	if err != nil {
		return err
	}
	branch.RemoveChild(last.childIndex)

	parentFrames := s.frames[:len(s.frames)-1]
	delta := -int64(size)

	if branch.ChildCount() == 0 {
		// the parent's child slot collapses entirely; handled by the
		// generic collapse-and-rebalance walk below via an empty-child
		// marker: we still need to remove this branch's own slot from
		// its parent. Recurse one level as if deleting a "leaf" whose
		// size was size, but the removed unit is a branch, not a leaf.
		if len(parentFrames) == 0 {
			// whole tree emptied below the root: leave an empty root
			// branch in place; callers must not let this happen given
			// the sentinel invariant, but guard anyway.
			return vtreeerr.ErrConsistency
		}
		pf := parentFrames[len(parentFrames)-1]
		pb, _, _, err := s.fetch(pf.ref)
		if err != nil {
			return err
		}
		pb.RemoveChild(pf.childIndex)
		save := s.frames
		s.frames = parentFrames[:len(parentFrames)-1]
		err = s.propagate(delta, nil)
		s.frames = save
		if err != nil {
			return err
		}
	} else {
		save := s.frames
		s.frames = parentFrames
		err = s.propagate(delta, nil)
		s.frames = save
		if err != nil {
			return err
		}
		if branch.IsUnderflowing(s.t.System.MaxBranch()) && len(parentFrames) > 0 {
			if err := s.redistributeBranchElements(parentFrames, last.ref); err != nil {
				return err
			}
		}
	}

	if err := s.collapseRoot(); err != nil {
		return err
	}
	s.t.bumpUpdateVersion(key)
	return nil
}

// redistributeBranchElements rebalances the underflowing branch at ref
// (a child of parentFrames' deepest frame) against a sibling, preferring
// the right sibling and falling back to the left.
func (s *pathStack) redistributeBranchElements(parentFrames []frame, ref noderef.Ref) error {
	pf := parentFrames[len(parentFrames)-1]
	parent, _, _, err := s.fetch(pf.ref)
	if err != nil {
		return err
	}
	i := pf.childIndex
	if i+1 < parent.ChildCount() {
		leftRef := parent.Children[i]
		rightRef := parent.Children[i+1]
		status, newMid, err := s.mergeChildren(leftRef, rightRef, parent.Keys[i])
		if err != nil {
			return err
		}
		return s.applyMergeResult(parent, i, status, newMid, rightRef)
	}
	if i > 0 {
		leftRef := parent.Children[i-1]
		rightRef := parent.Children[i]
		status, newMid, err := s.mergeChildren(leftRef, rightRef, parent.Keys[i-1])
		if err != nil {
			return err
		}
		return s.applyMergeResult(parent, i-1, status, newMid, rightRef)
	}
	return nil
}

func (s *pathStack) applyMergeResult(parent *vnode.Branch, leftIdx int, status int, newMid vkey.Key, rightRef noderef.Ref) error {
	parent.Children[leftIdx] = s.lastMergeLeftRef
	parent.Children[leftIdx+1] = s.lastMergeRightRef
	switch status {
	case MergeFull:
		leftSize, err := s.subtreeBytes(s.lastMergeLeftRef)
		if err != nil {
			return err
		}
		parent.Counts[leftIdx] = leftSize
		parent.RemoveChild(leftIdx + 1)
		if err := s.t.System.DisposeNode(rightRef); err != nil {
			return err
		}
	case MergeRedistributed:
		leftSize, err := s.subtreeBytes(s.lastMergeLeftRef)
		if err != nil {
			return err
		}
		rightSize, err := s.subtreeBytes(s.lastMergeRightRef)
		if err != nil {
			return err
		}
		parent.Counts[leftIdx] = leftSize
		parent.Counts[leftIdx+1] = rightSize
		parent.Keys[leftIdx] = newMid
	case MergeUnchanged:
	}
	return nil
}

// subtreeBytes returns the total byte count reachable through ref: a
// leaf's own size, or the sum of a branch's child counts.
func (s *pathStack) subtreeBytes(ref noderef.Ref) (uint64, error) {
	branch, leaf, sparse, err := s.fetch(ref)
	if err != nil {
		return 0, err
	}
	switch {
	case branch != nil:
		return branch.TotalBytes(), nil
	case leaf != nil:
		return uint64(leaf.Size), nil
	default:
		return uint64(sparse.Len), nil
	}
}

// collapseRoot repeatedly collapses a root branch of exactly one child
// into that child, shrinking tree height.
func (s *pathStack) collapseRoot() error {
	for {
		branch, _, _, err := s.fetch(s.t.RootRef)
		if err != nil {
			return err
		}
		if branch == nil || branch.ChildCount() != 1 {
			return nil
		}
		s.t.RootRef = branch.Children[0]
	}
}
