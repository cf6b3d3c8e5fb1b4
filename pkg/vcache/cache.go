// Package vcache implements the bounded, shared interior-node cache keyed
// by node reference: read-mostly across transactions, short insert under
// its own lock, LRU-evicted by a byte budget rather than an entry count.
package vcache

import (
	"container/list"
	"sync"

	"vtree/pkg/noderef"
	"vtree/pkg/vnode"
)

type entry struct {
	key     noderef.Ref
	branch  *vnode.Branch
	size    int64
	element *list.Element
}

// BranchCache is an LRU cache of frozen branches, bounded by total
// estimated byte size rather than entry count, mirroring how the store's
// own page cache is budgeted.
type BranchCache struct {
	mu       sync.RWMutex
	capacity int64
	used     int64
	items    map[noderef.Ref]*entry
	lru      *list.List
	hits     int64
	misses   int64
}

// New creates a branch cache bounded by capacityBytes.
func New(capacityBytes int64) *BranchCache {
	return &BranchCache{
		capacity: capacityBytes,
		items:    make(map[noderef.Ref]*entry),
		lru:      list.New(),
	}
}

func estimateSize(b *vnode.Branch) int64 {
	return int64(40 + len(b.Children)*24)
}

// Get returns the cached branch for ref, if present, moving it to the
// front of the LRU.
func (c *BranchCache) Get(ref noderef.Ref) (*vnode.Branch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[ref]
	if !ok {
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.element)
	c.hits++
	return e.branch, true
}

// Put inserts or refreshes the cached entry for ref, evicting the least
// recently used entries until back within capacity.
func (c *BranchCache) Put(ref noderef.Ref, b *vnode.Branch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := estimateSize(b)
	if existing, ok := c.items[ref]; ok {
		c.used -= existing.size
		existing.branch = b
		existing.size = size
		c.used += size
		c.lru.MoveToFront(existing.element)
	} else {
		el := c.lru.PushFront(ref)
		c.items[ref] = &entry{key: ref, branch: b, size: size, element: el}
		c.used += size
	}
	c.evict()
}

// Invalidate removes ref from the cache, e.g. when disposeNode reclaims
// the underlying store area.
func (c *BranchCache) Invalidate(ref noderef.Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(ref)
}

func (c *BranchCache) remove(ref noderef.Ref) {
	e, ok := c.items[ref]
	if !ok {
		return
	}
	c.lru.Remove(e.element)
	delete(c.items, ref)
	c.used -= e.size
}

func (c *BranchCache) evict() {
	for c.used > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.remove(back.Value.(noderef.Ref))
	}
}

// Stats reports hit/miss counters for observability parity with the
// teacher's own cache packages.
type Stats struct {
	Hits, Misses int64
	Entries      int
	UsedBytes    int64
	CapacityBytes int64
}

func (c *BranchCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits: c.hits, Misses: c.misses,
		Entries: len(c.items), UsedBytes: c.used, CapacityBytes: c.capacity,
	}
}
