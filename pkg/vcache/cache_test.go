package vcache

import (
	"testing"

	"vtree/pkg/noderef"
	"vtree/pkg/vnode"
)

func branchWithChildren(n int) *vnode.Branch {
	children := make([]noderef.Ref, n)
	counts := make([]uint64, n)
	for i := range children {
		children[i] = noderef.Store(uint64(i + 1))
	}
	return &vnode.Branch{Children: children, Counts: counts}
}

func TestGetMissThenHitAfterPut(t *testing.T) {
	c := New(1 << 20)
	ref := noderef.Store(1)

	if _, ok := c.Get(ref); ok {
		t.Fatalf("Get on empty cache should miss")
	}
	c.Put(ref, branchWithChildren(2))
	if _, ok := c.Get(ref); !ok {
		t.Fatalf("Get after Put should hit")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	// each 2-child branch estimates to 40+48=88 bytes; cap for ~2 entries.
	c := New(200)
	refs := []noderef.Ref{noderef.Store(1), noderef.Store(2), noderef.Store(3)}
	for _, r := range refs {
		c.Put(r, branchWithChildren(2))
	}

	stats := c.Stats()
	if stats.UsedBytes > 200 {
		t.Fatalf("UsedBytes = %d, want <= 200", stats.UsedBytes)
	}
	if _, ok := c.Get(refs[0]); ok {
		t.Fatalf("the least-recently-used entry should have been evicted")
	}
	if _, ok := c.Get(refs[2]); !ok {
		t.Fatalf("the most recently inserted entry should still be cached")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(1 << 20)
	ref := noderef.Store(5)
	c.Put(ref, branchWithChildren(2))
	c.Invalidate(ref)
	if _, ok := c.Get(ref); ok {
		t.Fatalf("Get after Invalidate should miss")
	}
}
