package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
)

// Merge status codes, per the merge policy: 1 means the right sibling was
// fully absorbed and deleted, 2 means both sides were redistributed and a
// new midpoint key replaces the old separator, 3 means neither side
// changed.
const (
	MergeFull          = 1
	MergeRedistributed = 2
	MergeUnchanged     = 3
)

func (s *pathStack) ensureMutableLeaf(ref noderef.Ref) (*vnode.Leaf, noderef.Ref, error) {
	_, leaf, sparse, err := s.fetch(ref)
	if err != nil {
		return nil, noderef.Nil, err
	}
	switch {
	case leaf != nil && !leaf.Frozen:
		return leaf, ref, nil
	case leaf != nil:
		clone := leaf.Clone()
		newRef := s.t.Heap.AllocLeaf(clone)
		s.t.recordDeletedLeaf(ref)
		return clone, newRef, nil
	default:
		real := sparse.Materialize(s.t.System.MaxLeaf())
		newRef := s.t.Heap.AllocLeaf(real)
		return real, newRef, nil
	}
}

func (s *pathStack) ensureMutableBranch(ref noderef.Ref) (*vnode.Branch, noderef.Ref, error) {
	branch, _, _, err := s.fetch(ref)
	if err != nil {
		return nil, noderef.Nil, err
	}
	if !branch.Frozen {
		return branch, ref, nil
	}
	clone := branch.Clone()
	newRef := s.t.Heap.AllocBranch(clone)
	return clone, newRef, nil
}

// mergeTwoLeaves implements the leaf half of the merge policy: full merge
// when the combined size fits in one leaf, partial redistribution to
// bring the left leaf up to 80% occupancy otherwise, or no change.
func (s *pathStack) mergeTwoLeaves(leftRef, rightRef noderef.Ref) (status int, newLeftRef, newRightRef noderef.Ref, err error) {
	left, newLeftRef, err := s.ensureMutableLeaf(leftRef)
	if err != nil {
		return 0, noderef.Nil, noderef.Nil, err
	}
	right, newRightRef, err := s.ensureMutableLeaf(rightRef)
	if err != nil {
		return 0, noderef.Nil, noderef.Nil, err
	}
	maxLeaf := len(left.Data)

	if left.Size+right.Size <= maxLeaf {
		left.Put(left.Size, right.Data, 0, right.Size)
		left.SetSize(left.Size + right.Size)
		return MergeFull, newLeftRef, newRightRef, nil
	}

	threshold := maxLeaf * 80 / 100
	if left.Size < threshold {
		need := threshold - left.Size
		if need > right.Size {
			need = right.Size
		}
		left.Put(left.Size, right.Data, 0, need)
		left.SetSize(left.Size + need)
		right.Shift(0, -need)
		return MergeRedistributed, newLeftRef, newRightRef, nil
	}
	return MergeUnchanged, newLeftRef, newRightRef, nil
}

// mergeTwoBranches implements the branch half of the merge policy.
func (s *pathStack) mergeTwoBranches(leftRef, rightRef noderef.Ref, midKey vkey.Key) (status int, newLeftRef, newRightRef noderef.Ref, newMid vkey.Key, err error) {
	left, newLeftRef, err := s.ensureMutableBranch(leftRef)
	if err != nil {
		return 0, noderef.Nil, noderef.Nil, midKey, err
	}
	right, newRightRef, err := s.ensureMutableBranch(rightRef)
	if err != nil {
		return 0, noderef.Nil, noderef.Nil, midKey, err
	}
	maxBranch := s.t.System.MaxBranch()

	if left.ChildCount()+right.ChildCount() <= maxBranch {
		left.Merge(right, midKey)
		return MergeFull, newLeftRef, newRightRef, midKey, nil
	}

	threshold := maxBranch * 75 / 100
	if left.ChildCount() < threshold {
		count := (right.ChildCount() - left.ChildCount()) / 2
		if count >= 3 {
			newMidKey, ok := left.MergeLeft(right, midKey, count)
			if ok {
				return MergeRedistributed, newLeftRef, newRightRef, newMidKey, nil
			}
		}
	}
	return MergeUnchanged, newLeftRef, newRightRef, midKey, nil
}

// mergeChildren dispatches to the leaf or branch merge policy depending on
// what leftRef/rightRef actually address, returning the (possibly
// refreshed) references for both sides so the caller can patch its own
// child slots.
func (s *pathStack) mergeChildren(leftRef, rightRef noderef.Ref, midKey vkey.Key) (status int, newMid vkey.Key, err error) {
	branch, leaf, sparse, err := s.fetch(leftRef)
	if err != nil {
		return 0, midKey, err
	}
	if branch != nil {
		status, newLeftRef, newRightRef, newMid, err := s.mergeTwoBranches(leftRef, rightRef, midKey)
		s.lastMergeLeftRef, s.lastMergeRightRef = newLeftRef, newRightRef
		return status, newMid, err
	}
	_ = leaf
	_ = sparse
	status, newLeftRef, newRightRef, err := s.mergeTwoLeaves(leftRef, rightRef)
	s.lastMergeLeftRef, s.lastMergeRightRef = newLeftRef, newRightRef
	return status, midKey, err
}
