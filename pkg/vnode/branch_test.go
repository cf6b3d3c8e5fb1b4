package vnode

import (
	"testing"

	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
)

func key(primary uint64) vkey.Key { return vkey.Key{Type: 1, Primary: primary} }

func threeChildBranch() *Branch {
	return &Branch{
		Children: []noderef.Ref{noderef.Store(1), noderef.Store(2), noderef.Store(3)},
		Counts:   []uint64{10, 20, 30},
		Keys:     []vkey.Key{key(100), key(200)},
	}
}

func TestBranchTotalBytes(t *testing.T) {
	b := threeChildBranch()
	if got := b.TotalBytes(); got != 60 {
		t.Fatalf("TotalBytes() = %d, want 60", got)
	}
}

func TestBranchSearchFirstAndLast(t *testing.T) {
	b := threeChildBranch()
	if got := b.SearchFirst(key(50)); got != 0 {
		t.Fatalf("SearchFirst(50) = %d, want 0", got)
	}
	if got := b.SearchFirst(key(250)); got != 2 {
		t.Fatalf("SearchFirst(250) = %d, want 2", got)
	}
	// exact separator match signals via negative encoding
	if got := b.SearchFirst(key(100)); got != -1 {
		t.Fatalf("SearchFirst(100) = %d, want -1", got)
	}
	if got := b.SearchLast(key(100)); got != 1 {
		t.Fatalf("SearchLast(100) = %d, want 1", got)
	}
}

func TestBranchChildAtOffset(t *testing.T) {
	b := threeChildBranch()
	idx, rel := b.ChildAtOffset(key(50), 5)
	if idx != 0 || rel != 5 {
		t.Fatalf("ChildAtOffset(5) = (%d,%d), want (0,5)", idx, rel)
	}
	idx, rel = b.ChildAtOffset(key(50), 15)
	if idx != 1 || rel != 5 {
		t.Fatalf("ChildAtOffset(15) = (%d,%d), want (1,5)", idx, rel)
	}
}

func TestBranchInsertSplicesChildAndKey(t *testing.T) {
	b := threeChildBranch()
	b.Insert(1, noderef.Store(2), 8, key(150), noderef.Store(99), 12)

	if got := len(b.Children); got != 4 {
		t.Fatalf("ChildCount() = %d, want 4", got)
	}
	if b.Counts[1] != 8 || b.Counts[2] != 12 {
		t.Fatalf("Counts after insert = %v, want [.. 8 12 ..]", b.Counts)
	}
	if !noderef.Equal(b.Children[2], noderef.Store(99)) {
		t.Fatalf("Children[2] = %+v, want the newly inserted child", b.Children[2])
	}
	if b.Keys[1] != key(150) {
		t.Fatalf("Keys[1] = %+v, want %+v", b.Keys[1], key(150))
	}
}

func TestBranchRemoveChildFirst(t *testing.T) {
	b := threeChildBranch()
	b.RemoveChild(0)
	if len(b.Children) != 2 {
		t.Fatalf("ChildCount() = %d, want 2", len(b.Children))
	}
	if !noderef.Equal(b.Children[0], noderef.Store(2)) {
		t.Fatalf("Children[0] = %+v, want Store(2)", b.Children[0])
	}
	if len(b.Keys) != 1 || b.Keys[0] != key(200) {
		t.Fatalf("Keys after removing child 0 = %v, want [key(200)]", b.Keys)
	}
}

func TestBranchRemoveChildMiddle(t *testing.T) {
	b := threeChildBranch()
	b.RemoveChild(1)
	if len(b.Children) != 2 {
		t.Fatalf("ChildCount() = %d, want 2", len(b.Children))
	}
	if len(b.Keys) != 1 || b.Keys[0] != key(200) {
		t.Fatalf("Keys after removing child 1 = %v, want [key(200)]", b.Keys)
	}
}

func TestBranchMoveLastHalfIntoPreservesTotalChildren(t *testing.T) {
	b := &Branch{
		Children: []noderef.Ref{noderef.Store(1), noderef.Store(2), noderef.Store(3), noderef.Store(4)},
		Counts:   []uint64{1, 2, 3, 4},
		Keys:     []vkey.Key{key(10), key(20), key(30)},
	}
	dest := &Branch{}
	mid := b.MoveLastHalfInto(dest)

	if len(b.Children)+len(dest.Children) != 4 {
		t.Fatalf("total children after split = %d, want 4", len(b.Children)+len(dest.Children))
	}
	if mid != key(20) {
		t.Fatalf("midKey = %+v, want key(20)", mid)
	}
	if len(b.Keys) != len(b.Children)-1 || len(dest.Keys) != len(dest.Children)-1 {
		t.Fatalf("key/child count invariant violated after split: b=%d/%d dest=%d/%d",
			len(b.Keys), len(b.Children), len(dest.Keys), len(dest.Children))
	}
}

func TestBranchMergeFullyAbsorbsRight(t *testing.T) {
	left := &Branch{
		Children: []noderef.Ref{noderef.Store(1), noderef.Store(2)},
		Counts:   []uint64{1, 2},
		Keys:     []vkey.Key{key(10)},
	}
	right := &Branch{
		Children: []noderef.Ref{noderef.Store(3), noderef.Store(4)},
		Counts:   []uint64{3, 4},
		Keys:     []vkey.Key{key(30)},
	}
	left.Merge(right, key(20))

	if len(left.Children) != 4 {
		t.Fatalf("ChildCount() = %d, want 4", len(left.Children))
	}
	if len(left.Keys) != 3 {
		t.Fatalf("len(Keys) = %d, want 3", len(left.Keys))
	}
}

func TestBranchCloneIsIndependent(t *testing.T) {
	b := threeChildBranch()
	b.Frozen = true
	c := b.Clone()
	if c.Frozen {
		t.Fatalf("clone must not be frozen")
	}
	c.Counts[0] = 999
	if b.Counts[0] == 999 {
		t.Fatalf("clone must not share backing arrays with the original")
	}
}

func TestBranchOccupancyPredicates(t *testing.T) {
	b := threeChildBranch()
	if !b.IsUnderflowing(8) {
		t.Fatalf("3 children under maxBranch=8 should be underflowing")
	}
	if b.IsUnderflowing(4) {
		t.Fatalf("3 children under maxBranch=4 should not be underflowing")
	}
	if b.IsFull(4) {
		t.Fatalf("3 children should not be full at maxBranch=4")
	}
	if !b.IsFull(3) {
		t.Fatalf("3 children should be full at maxBranch=3")
	}
}
