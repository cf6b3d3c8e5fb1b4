package treesystem

import (
	"fmt"
	"math"

	"vtree/pkg/noderef"
	"vtree/pkg/store"
	"vtree/pkg/txn"
	"vtree/pkg/vnode"
	"vtree/pkg/vtreeerr"
)

// MaxBranch and MaxLeaf satisfy txn.StoreBridge, reporting the node-size
// limits every Branch/Leaf in this tree is built against.
func (ts *TreeSystem) MaxBranch() int { return ts.opts.MaxBranch }
func (ts *TreeSystem) MaxLeaf() int   { return ts.opts.MaxLeaf }

// FetchNode resolves a store-resident reference to its branch or leaf,
// consulting the interior-node cache for branches first.
func (ts *TreeSystem) FetchNode(ref noderef.Ref) (*vnode.Branch, *vnode.Leaf, error) {
	if !ref.IsStore() {
		return nil, nil, fmt.Errorf("treesystem: FetchNode called on a non-store reference")
	}
	if b, ok := ts.cache.Get(ref); ok {
		return b, nil, nil
	}
	r, err := ts.st.GetArea(store.AreaID(ref.AreaID()))
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, r.Size())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, nil, err
	}
	if len(buf) >= 2 && isBranchTag(buf) {
		b, err := vnode.DecodeBranch(buf)
		if err != nil {
			return nil, nil, err
		}
		ts.cache.Put(ref, b)
		return b, nil, nil
	}
	l, err := vnode.DecodeLeaf(buf, ts.opts.MaxLeaf)
	if err != nil {
		return nil, nil, err
	}
	return nil, l, nil
}

// isBranchTag peeks the on-disk type tag without fully decoding, to
// dispatch between DecodeBranch and DecodeLeaf.
func isBranchTag(buf []byte) bool {
	typ := uint16(buf[0]) | uint16(buf[1])<<8
	return typ == 0x022EB
}

// LinkLeaf increments the on-disk refcount of the store-resident leaf at
// ref, used when a second DataFile is made to reference an existing
// leaf's payload rather than copying it. Reports ok=false if ref does not
// presently address a live leaf, and fails with ErrRefCountOverflow rather
// than wrapping if the leaf is already at the maximum representable count.
func (ts *TreeSystem) LinkLeaf(ref noderef.Ref) (bool, error) {
	if !ref.IsStore() {
		return false, nil
	}
	mw, err := ts.st.GetMutableArea(store.AreaID(ref.AreaID()))
	if err != nil {
		return false, nil
	}
	buf := make([]byte, mw.Size())
	if _, err := mw.ReadAt(buf, 0); err != nil {
		return false, err
	}
	if isBranchTag(buf) {
		return false, nil
	}
	l, err := vnode.DecodeLeaf(buf, ts.opts.MaxLeaf)
	if err != nil {
		return false, err
	}
	if l.RefCount == math.MaxUint32 {
		return false, vtreeerr.ErrRefCountOverflow
	}
	l.RefCount++
	out := vnode.EncodeLeaf(l)
	if _, err := mw.WriteAt(out, 0); err != nil {
		return false, err
	}
	return true, nil
}

// DisposeNode releases one reference to ref: a leaf's on-disk refcount is
// decremented and its area only reclaimed at zero; a branch carries no
// refcount and its area is reclaimed immediately, since branches are never
// shared outside the single tree that built them.
func (ts *TreeSystem) DisposeNode(ref noderef.Ref) error {
	if ref.IsSparse() || ref.IsHeap() {
		return nil
	}
	areaID := store.AreaID(ref.AreaID())
	r, err := ts.st.GetArea(areaID)
	if err != nil {
		return nil
	}
	buf := make([]byte, r.Size())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return err
	}
	if isBranchTag(buf) {
		ts.cache.Invalidate(ref)
		return ts.st.DeleteArea(areaID)
	}
	l, err := vnode.DecodeLeaf(buf, ts.opts.MaxLeaf)
	if err != nil {
		return err
	}
	if l.RefCount > 1 {
		l.RefCount--
		mw, err := ts.st.GetMutableArea(areaID)
		if err != nil {
			return err
		}
		_, err = mw.WriteAt(vnode.EncodeLeaf(l), 0)
		return err
	}
	return ts.st.DeleteArea(areaID)
}

// Flush writes every heap node reachable through seq into the store and
// returns every local id's resolved store reference. It runs in two
// passes because a branch's encoded size depends only on its child count
// (not the children's resolved references, which are the same two-word
// width whether heap- or store-backed): the first pass allocates every
// entry's final-sized area up front — leaves write their one-shot content
// immediately, branches reserve space with a placeholder — and the second
// pass patches each branch's child slots from heap to store references via
// seq.Links and writes its real content once every id it can reference has
// a resolved area.
func (ts *TreeSystem) Flush(seq *txn.WriteSequence) (map[uint64]noderef.Ref, error) {
	resolvedArea := make(map[uint64]store.AreaID, len(seq.Entries))
	resolvedRef := make(map[uint64]noderef.Ref, len(seq.Entries))
	entryByID := make(map[uint64]*txn.WriteEntry, len(seq.Entries))

	for i := range seq.Entries {
		e := &seq.Entries[i]
		entryByID[e.LocalID] = e

		var size int
		var immediate []byte
		if e.Leaf != nil {
			immediate = vnode.EncodeLeaf(e.Leaf)
			size = len(immediate)
		} else {
			n := len(e.Branch.Children)
			size = 8 + 8*(5*n-2)
		}
		w, err := ts.st.CreateArea(size)
		if err != nil {
			return nil, err
		}
		if immediate != nil {
			if _, err := w.Write(immediate); err != nil {
				return nil, err
			}
		} else {
			if _, err := w.Write(make([]byte, size)); err != nil {
				return nil, err
			}
		}
		id, err := w.Close()
		if err != nil {
			return nil, err
		}
		resolvedArea[e.LocalID] = id
		resolvedRef[e.LocalID] = noderef.Store(uint64(id))
	}

	for _, link := range seq.Links {
		e, ok := entryByID[link.BranchLocalID]
		if !ok || e.Branch == nil {
			continue
		}
		if ref, ok := resolvedRef[link.ChildLocalID]; ok {
			e.Branch.Children[link.ChildIndex] = ref
		}
	}

	for _, e := range seq.Entries {
		if e.Branch == nil {
			continue
		}
		e.Branch.Frozen = true
		buf := vnode.EncodeBranch(e.Branch)
		mw, err := ts.st.GetMutableArea(resolvedArea[e.LocalID])
		if err != nil {
			return nil, err
		}
		if _, err := mw.WriteAt(buf, 0); err != nil {
			return nil, err
		}
	}

	return resolvedRef, nil
}
