package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
)

// crossLeafShrinkThreshold is the point past which shiftData delegates a
// large shrink to the range-delete compaction path rather than walking
// leaf by leaf.
const crossLeafShrinkThreshold = 32 * 1024

// globalOffset resolves (key, localPos) to its position on the whole
// tree's flat byte axis, the addressing space removeAbsoluteBounds and
// DataRange operate over.
func (s *pathStack) globalOffset(key vkey.Key, localPos uint64) (uint64, error) {
	var total uint64
	ref := s.t.RootRef
	pos := localPos
	for {
		branch, _, _, err := s.fetch(ref)
		if err != nil {
			return 0, err
		}
		if branch == nil {
			return total + pos, nil
		}
		childIdx, relOff := branch.LocateKeyOffset(key, pos)
		for i := 0; i < childIdx; i++ {
			total += branch.Counts[i]
		}
		ref = branch.Children[childIdx]
		pos = relOff
	}
}

// splitLeafAt splits the leaf currently addressed (after setupForPosition
// and unfreezeStack) at the in-leaf offset the stack resolved, inserting
// the right half as a new leaf immediately after the current one.
func (s *pathStack) splitLeafAt(key vkey.Key) error {
	leaf, err := s.currentLeaf()
	if err != nil {
		return err
	}
	at := int(s.leafPos)
	if at >= leaf.Size {
		return nil
	}
	tailLen := leaf.Size - at
	newLeaf := vnode.NewLeaf(len(leaf.Data))
	copy(newLeaf.Data, leaf.Data[at:leaf.Size])
	newLeaf.Size = tailLen
	if err := leaf.SetSize(at); err != nil {
		return err
	}
	return s.insertLeaf(key, newLeaf, false)
}

// expandLeaf grows the file at (key, atPos) by n bytes, using in-leaf
// spare capacity when available and otherwise splitting to splice in a new
// leaf. A new leaf that exactly fills a whole capacity-sized zero run is
// represented as a sparse leaf reference instead of an allocated, zero-filled
// buffer; it is materialized into a real leaf automatically the first time
// anything writes through it (see unfreezeStack).
func (s *pathStack) expandLeaf(key vkey.Key, atPos uint64, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.setupForPosition(key, atPos); err != nil {
		return err
	}
	if err := s.unfreezeStack(); err != nil {
		return err
	}
	leaf, err := s.currentLeaf()
	if err != nil {
		return err
	}
	local := int(s.leafPos)
	if leaf.SpareCapacity() >= n {
		if err := leaf.Shift(local, n); err != nil {
			return err
		}
		if err := s.propagate(int64(n), nil); err != nil {
			return err
		}
		s.t.bumpUpdateVersion(key)
		return nil
	}

	if err := s.splitLeafAt(key); err != nil {
		return err
	}
	if err := s.setupForPosition(key, atPos); err != nil {
		return err
	}
	if err := s.unfreezeStack(); err != nil {
		return err
	}
	capacity := s.t.System.MaxLeaf()
	fill := n
	if fill > capacity {
		fill = capacity
	}
	if fill == capacity && vnode.CanRepresent(fill) {
		sparseRef := noderef.Sparse(0, uint16(fill))
		if err := s.insertLeafRef(key, sparseRef, uint64(fill), false); err != nil {
			return err
		}
	} else {
		newLeaf := vnode.NewLeaf(capacity)
		newLeaf.Size = fill
		if err := s.insertLeaf(key, newLeaf, false); err != nil {
			return err
		}
	}
	if fill < n {
		return s.expandLeaf(key, atPos+uint64(fill), n-fill)
	}
	return nil
}

// trimAtPosition truncates the file at (key, atPos), removing everything
// from atPos through the end of the leaf currently addressed. Callers
// handle any remaining leaves of the same key separately.
func (s *pathStack) trimAtPosition(key vkey.Key, atPos uint64) error {
	if err := s.setupForPosition(key, atPos); err != nil {
		return err
	}
	if err := s.unfreezeStack(); err != nil {
		return err
	}
	leaf, err := s.currentLeaf()
	if err != nil {
		return err
	}
	local := int(s.leafPos)
	removed := leaf.Size - local
	if removed <= 0 {
		return nil
	}
	if err := leaf.SetSize(local); err != nil {
		return err
	}
	if err := s.propagate(-int64(removed), nil); err != nil {
		return err
	}
	s.t.bumpUpdateVersion(key)
	return nil
}

// shiftLeaf moves bytes at (key, atPos) by delta entirely within the
// current leaf when capacity and occupancy allow it; it is the common-case
// fast path shiftData tries before crossing a leaf boundary.
func (s *pathStack) shiftLeaf(key vkey.Key, atPos uint64, delta int) (ok bool, err error) {
	if err := s.setupForPosition(key, atPos); err != nil {
		return false, err
	}
	if err := s.unfreezeStack(); err != nil {
		return false, err
	}
	leaf, err := s.currentLeaf()
	if err != nil {
		return false, err
	}
	local := int(s.leafPos)
	if delta > 0 && leaf.SpareCapacity() < delta {
		return false, nil
	}
	if delta < 0 && local-delta > leaf.Size {
		return false, nil
	}
	if err := leaf.Shift(local, delta); err != nil {
		return false, err
	}
	if err := s.propagate(int64(delta), nil); err != nil {
		return false, err
	}
	s.t.bumpUpdateVersion(key)
	return true, nil
}

// shiftData is the general byte-shift contract used by DataFile: it grows
// or shrinks key's data starting at absPos by delta, choosing among four
// cases: a large shrink delegates to range-delete compaction, an empty
// key only ever grows in place, an at-end position grows or trims
// directly (a shrink at absPos == curSize removes the last -delta bytes),
// and everything else tries the in-leaf fast path before
// falling back to a leaf split or boundary-crossing removal.
func (s *pathStack) shiftData(key vkey.Key, absPos uint64, delta int, curSize uint64) error {
	if delta < -crossLeafShrinkThreshold {
		if absPos < curSize {
			end := minU64(absPos+uint64(-delta), curSize)
			return s.shrinkFromEnd(key, end, end-absPos)
		}
		start, err := s.globalOffset(key, uint64(int64(absPos)+int64(delta)))
		if err != nil {
			return err
		}
		end, err := s.globalOffset(key, absPos)
		if err != nil {
			return err
		}
		return s.removeAbsoluteBounds(start, end)
	}

	if curSize == 0 {
		if delta > 0 {
			return s.expandLeaf(key, 0, delta)
		}
		return nil
	}

	if absPos == curSize {
		if delta > 0 {
			return s.expandLeaf(key, absPos, delta)
		}
		if delta < 0 {
			return s.shrinkFromEnd(key, curSize, uint64(-delta))
		}
		return nil
	}

	if delta == 0 {
		return nil
	}
	if ok, err := s.shiftLeaf(key, absPos, delta); err != nil {
		return err
	} else if ok {
		return nil
	}
	if delta > 0 {
		return s.expandLeaf(key, absPos, delta)
	}
	end := minU64(absPos+uint64(-delta), curSize)
	return s.shrinkFromEnd(key, end, end-absPos)
}

// shrinkFromEnd removes n bytes ending at endPos, delegating to the
// range-delete compaction path since the amount may span leaf boundaries.
func (s *pathStack) shrinkFromEnd(key vkey.Key, endPos uint64, n uint64) error {
	startLocal := endPos - minU64(n, endPos)
	start, err := s.globalOffset(key, startLocal)
	if err != nil {
		return err
	}
	end, err := s.globalOffset(key, endPos)
	if err != nil {
		return err
	}
	return s.removeAbsoluteBounds(start, end)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// readInto copies n bytes starting at (key, absPos) into buf[off:],
// repositioning the stack across leaf boundaries as needed.
func (s *pathStack) readInto(key vkey.Key, absPos uint64, buf []byte, off, n int) error {
	remaining := n
	pos := absPos
	bufOff := off
	for remaining > 0 {
		if err := s.setupForPosition(key, pos); err != nil {
			return err
		}
		_, leaf, sparse, err := s.fetch(s.leafRef)
		if err != nil {
			return err
		}
		local := int(s.leafPos)
		var available int
		if leaf != nil {
			available = leaf.Size - local
		} else {
			available = sparse.Len - local
		}
		if available <= 0 {
			return nil
		}
		chunk := remaining
		if chunk > available {
			chunk = available
		}
		if leaf != nil {
			if err := leaf.Get(local, buf, bufOff, chunk); err != nil {
				return err
			}
		} else {
			sparse.Get(local, buf, bufOff, chunk)
		}
		remaining -= chunk
		pos += uint64(chunk)
		bufOff += chunk
	}
	return nil
}

// writeFrom writes n bytes from buf[off:] starting at (key, absPos),
// repositioning the stack across leaf boundaries as needed. Positions at
// or past the file's current size must already have been grown by the
// caller via shiftData.
func (s *pathStack) writeFrom(key vkey.Key, absPos uint64, buf []byte, off, n int) error {
	remaining := n
	pos := absPos
	bufOff := off
	for remaining > 0 {
		if err := s.setupForPosition(key, pos); err != nil {
			return err
		}
		if err := s.unfreezeStack(); err != nil {
			return err
		}
		leaf, err := s.currentLeaf()
		if err != nil {
			return err
		}
		local := int(s.leafPos)
		available := leaf.Size - local
		if available <= 0 {
			return nil
		}
		chunk := remaining
		if chunk > available {
			chunk = available
		}
		if err := leaf.Put(local, buf, bufOff, chunk); err != nil {
			return err
		}
		remaining -= chunk
		pos += uint64(chunk)
		bufOff += chunk
	}
	if n > 0 {
		s.t.bumpUpdateVersion(key)
	}
	return nil
}
