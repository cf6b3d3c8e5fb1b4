package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
	"vtree/pkg/vtreeerr"
)

// removeAbsoluteBounds deletes the global byte range [start, end) — spanning
// however many keys' leaves it touches — and is the target shiftData
// delegates a large shrink to, and the primitive DataRange.delete()
// ultimately drives. Branches that collapse to a single surviving child
// are replaced by that child in place, shrinking tree height along the
// deletion seam; any branch child left locally underflowing by a partial
// removal is merged with a neighboring sibling before its parent is built
// (see rebalanceSeam), so every non-root branch restores its minimum
// occupancy immediately rather than waiting on the next unrelated insert
// or delete to pass through it.
func (s *pathStack) removeAbsoluteBounds(start, end uint64) error {
	if end <= start {
		return nil
	}
	newRoot, consumed, err := s.removeRange(s.t.RootRef, start, end)
	if err != nil {
		return err
	}
	if consumed {
		return vtreeerr.ErrConsistency
	}
	s.t.RootRef = newRoot
	s.t.bumpUpdateVersion(vkey.HeadKey)
	return s.collapseRoot()
}

// removeRange removes the portion of [start, end) that falls within the
// subtree at ref, returning its replacement reference. consumed reports
// that ref's entire byte range fell inside [start, end) and the caller
// must drop this child from its own children list rather than keep an
// empty placeholder.
func (s *pathStack) removeRange(ref noderef.Ref, start, end uint64) (newRef noderef.Ref, consumed bool, err error) {
	branch, leaf, sparse, ferr := s.fetch(ref)
	if ferr != nil {
		return noderef.Nil, false, ferr
	}

	if branch == nil {
		size := 0
		if leaf != nil {
			size = leaf.Size
		} else {
			size = sparse.Len
		}
		if start == 0 && end >= uint64(size) {
			if leaf != nil && ref.IsStore() {
				s.t.recordDeletedLeaf(ref)
			}
			return noderef.Nil, true, nil
		}
		mutable, mutRef, merr := s.ensureMutableLeaf(ref)
		if merr != nil {
			return noderef.Nil, false, merr
		}
		clipEnd := end
		if clipEnd > uint64(size) {
			clipEnd = uint64(size)
		}
		n := int(clipEnd - start)
		if n <= 0 {
			return mutRef, false, nil
		}
		if err := mutable.Shift(int(start), -n); err != nil {
			return noderef.Nil, false, err
		}
		return mutRef, false, nil
	}

	type kept struct {
		ref   noderef.Ref
		count uint64
	}
	var keptChildren []kept
	var keptOriginalIdx []int

	var consumedBytes uint64
	for i, child := range branch.Children {
		c := branch.Counts[i]
		childStart := consumedBytes
		childEnd := consumedBytes + c
		consumedBytes = childEnd

		if end <= childStart || start >= childEnd {
			keptChildren = append(keptChildren, kept{ref: child, count: c})
			keptOriginalIdx = append(keptOriginalIdx, i)
			continue
		}
		localStart := uint64(0)
		if start > childStart {
			localStart = start - childStart
		}
		localEnd := c
		if end < childEnd {
			localEnd = end - childStart
		}
		newChildRef, childConsumed, rerr := s.removeRange(child, localStart, localEnd)
		if rerr != nil {
			return noderef.Nil, false, rerr
		}
		if childConsumed {
			continue
		}
		newSize, berr := s.subtreeBytes(newChildRef)
		if berr != nil {
			return noderef.Nil, false, berr
		}
		keptChildren = append(keptChildren, kept{ref: newChildRef, count: newSize})
		keptOriginalIdx = append(keptOriginalIdx, i)
	}

	if len(keptChildren) == 0 {
		return noderef.Nil, true, nil
	}
	if len(keptChildren) == 1 {
		return keptChildren[0].ref, false, nil
	}

	n := len(keptChildren)
	newBranch := &vnode.Branch{
		Children: make([]noderef.Ref, n),
		Counts:   make([]uint64, n),
		Keys:     make([]vkey.Key, n-1),
	}
	for j, k := range keptChildren {
		newBranch.Children[j] = k.ref
		newBranch.Counts[j] = k.count
		if j > 0 {
			prevOriginal := keptOriginalIdx[j-1]
			newBranch.Keys[j-1] = branch.Keys[prevOriginal]
		}
	}
	if err := s.rebalanceSeam(newBranch); err != nil {
		return noderef.Nil, false, err
	}
	newRef = s.t.Heap.AllocBranch(newBranch)
	return newRef, false, nil
}

// rebalanceSeam walks newBranch's children once, merging any branch child
// left underflowing by a partial range removal with a neighboring sibling
// — preferring the right sibling and falling back to the left, exactly as
// redistributeBranchElements does for the single-key delete path. Since
// removeRange recurses depth-first, every child here was itself already
// rebalanced at the level below, so this pass only ever needs to repair
// the seam at newBranch's own level.
func (s *pathStack) rebalanceSeam(newBranch *vnode.Branch) error {
	maxBranch := s.t.System.MaxBranch()
	for i := 0; i < newBranch.ChildCount(); {
		child, _, _, err := s.fetch(newBranch.Children[i])
		if err != nil {
			return err
		}
		if child == nil || !child.IsUnderflowing(maxBranch) {
			i++
			continue
		}
		if i+1 < newBranch.ChildCount() {
			rightRef := newBranch.Children[i+1]
			status, newMid, err := s.mergeChildren(newBranch.Children[i], rightRef, newBranch.Keys[i])
			if err != nil {
				return err
			}
			if err := s.applyMergeResult(newBranch, i, status, newMid, rightRef); err != nil {
				return err
			}
			if status != MergeFull {
				i++
			}
			continue
		}
		if i > 0 {
			rightRef := newBranch.Children[i]
			status, newMid, err := s.mergeChildren(newBranch.Children[i-1], rightRef, newBranch.Keys[i-1])
			if err != nil {
				return err
			}
			if err := s.applyMergeResult(newBranch, i-1, status, newMid, rightRef); err != nil {
				return err
			}
			if status == MergeFull {
				i--
			}
			continue
		}
		i++
	}
	return nil
}
