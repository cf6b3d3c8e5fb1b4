package treesystem

import (
	"sync"

	"vtree/pkg/noderef"
	"vtree/pkg/store"
	"vtree/pkg/txn"
	"vtree/pkg/vcache"
	"vtree/pkg/vkey"
	"vtree/pkg/vnode"
	"vtree/pkg/vtreeerr"
)

// Options configures a TreeSystem's node-size limits and resource budgets.
type Options struct {
	MaxBranch         int
	MaxLeaf           int
	HeapCapacityBytes int64
	CacheBytes        int64
}

func (o Options) withDefaults() Options {
	if o.MaxBranch == 0 {
		o.MaxBranch = 16
	}
	if o.MaxLeaf == 0 {
		o.MaxLeaf = 4010
	}
	if o.HeapCapacityBytes == 0 {
		o.HeapCapacityBytes = 14 << 20
	}
	if o.CacheBytes == 0 {
		o.CacheBytes = 2 << 20
	}
	return o
}

// TreeSystem is the transactional, versioned, copy-on-write tree: the
// single point that knows how to fetch store-resident nodes, flush a
// transaction's heap into the store, and serialize commits into a strictly
// increasing version sequence. It implements txn.StoreBridge.
type TreeSystem struct {
	st    store.Store
	cache *vcache.BranchCache
	opts  Options

	headerAreaID store.AreaID
	configAreaID store.AreaID

	commitMu sync.Mutex // serializes Commit: one writer at a time

	vmu            sync.Mutex
	currentVersion uint64
	currentRoot    noderef.Ref
	pinCount       map[uint64]int
	pendingDelete  map[uint64][]noderef.Ref

	criticalMu sync.Mutex
	critical   error
}

// Open bootstraps a fresh tree over st: an empty root branch bracketed by
// the head and tail sentinel leaves, at version 0. Reopening a store
// written by a prior process is not supported — the concrete MmapStore
// backend does not itself persist its area table across process restarts
// (see pkg/store's own doc comments), so there is nothing for Open to
// recover here even if this package tried.
func Open(st store.Store, opts Options) (*TreeSystem, error) {
	opts = opts.withDefaults()
	ts := &TreeSystem{
		st:            st,
		cache:         vcache.New(opts.CacheBytes),
		opts:          opts,
		pinCount:      make(map[uint64]int),
		pendingDelete: make(map[uint64][]noderef.Ref),
	}
	root, err := ts.bootstrap()
	if err != nil {
		return nil, err
	}
	ts.currentRoot = root
	ts.currentVersion = 0
	if err := ts.persistConfig(); err != nil {
		return nil, err
	}
	return ts, nil
}

// bootstrap writes the two sentinel leaves and their enclosing root branch
// directly into the store, returning the root's store reference.
func (ts *TreeSystem) bootstrap() (noderef.Ref, error) {
	headLeaf := vnode.NewLeaf(ts.opts.MaxLeaf)
	headLeaf.RefCount = 1
	tailLeaf := vnode.NewLeaf(ts.opts.MaxLeaf)
	tailLeaf.RefCount = 1

	headRef, err := ts.writeLeaf(headLeaf)
	if err != nil {
		return noderef.Nil, err
	}
	tailRef, err := ts.writeLeaf(tailLeaf)
	if err != nil {
		return noderef.Nil, err
	}

	root := vnode.NewBranch(headRef, 0, vkey.TailKey, tailRef, 0)
	return ts.writeBranch(root)
}

func (ts *TreeSystem) writeLeaf(l *vnode.Leaf) (noderef.Ref, error) {
	w, err := ts.st.CreateArea(len(vnode.EncodeLeaf(l)))
	if err != nil {
		return noderef.Nil, err
	}
	if _, err := w.Write(vnode.EncodeLeaf(l)); err != nil {
		return noderef.Nil, err
	}
	id, err := w.Close()
	if err != nil {
		return noderef.Nil, err
	}
	return noderef.Store(uint64(id)), nil
}

func (ts *TreeSystem) writeBranch(b *vnode.Branch) (noderef.Ref, error) {
	buf := vnode.EncodeBranch(b)
	w, err := ts.st.CreateArea(len(buf))
	if err != nil {
		return noderef.Nil, err
	}
	if _, err := w.Write(buf); err != nil {
		return noderef.Nil, err
	}
	id, err := w.Close()
	if err != nil {
		return noderef.Nil, err
	}
	return noderef.Store(uint64(id)), nil
}

func (ts *TreeSystem) persistConfig() error {
	rec := configRecord{
		version:   ts.currentVersion,
		root:      ts.currentRoot,
		maxBranch: uint32(ts.opts.MaxBranch),
		maxLeaf:   uint32(ts.opts.MaxLeaf),
	}
	buf := encodeConfig(rec)
	if ts.configAreaID == 0 {
		w, err := ts.st.CreateArea(len(buf))
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		id, err := w.Close()
		if err != nil {
			return err
		}
		ts.configAreaID = id
		return ts.persistHeader()
	}
	mw, err := ts.st.GetMutableArea(ts.configAreaID)
	if err != nil {
		return err
	}
	_, err = mw.WriteAt(buf, 0)
	return err
}

func (ts *TreeSystem) persistHeader() error {
	buf := encodeHeader(uint64(ts.configAreaID))
	if ts.headerAreaID == 0 {
		w, err := ts.st.CreateArea(len(buf))
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		id, err := w.Close()
		if err != nil {
			return err
		}
		ts.headerAreaID = id
		return nil
	}
	mw, err := ts.st.GetMutableArea(ts.headerAreaID)
	if err != nil {
		return err
	}
	_, err = mw.WriteAt(buf, 0)
	return err
}

func (ts *TreeSystem) setCritical(err error) error {
	ts.criticalMu.Lock()
	defer ts.criticalMu.Unlock()
	if ts.critical == nil {
		ts.critical = err
	}
	return ts.critical
}

func (ts *TreeSystem) checkCritical() error {
	ts.criticalMu.Lock()
	defer ts.criticalMu.Unlock()
	return ts.critical
}

// CreateTransaction begins a new transaction snapshotting the most
// recently committed version. readOnly transactions reject every
// DataFile/DataRange mutator, and Commit, with ErrReadOnly; writable transactions still serialize against
// each other only at Commit time.
func (ts *TreeSystem) CreateTransaction(readOnly bool) (*txn.Transaction, error) {
	if err := ts.checkCritical(); err != nil {
		return nil, err
	}
	ts.vmu.Lock()
	version := ts.currentVersion
	root := ts.currentRoot
	ts.pinCount[version]++
	ts.vmu.Unlock()

	t := txn.New(ts, version, root, ts.opts.HeapCapacityBytes, readOnly)
	return t, nil
}

// Dispose releases a transaction that was never committed: any store
// areas listed in its InsertedAreas are deleted, and its pin on the
// snapshot version it read is released.
func (ts *TreeSystem) Dispose(t *txn.Transaction) error {
	for _, ref := range t.InsertedAreas {
		if ref.IsStore() {
			_ = ts.st.DeleteArea(store.AreaID(ref.AreaID()))
		}
	}
	ts.unpin(t.VersionID)
	return nil
}

// Commit serializes t's mutations into the next version: it rejects a
// transaction whose VersionID has fallen behind the current version (no
// merge/retry — commits are strictly sequential), flushes the remaining
// heap-resident root into the store, and repoints the persisted config
// to it.
func (ts *TreeSystem) Commit(t *txn.Transaction) error {
	if err := ts.checkCritical(); err != nil {
		return err
	}
	if t.ReadOnly {
		return vtreeerr.ErrReadOnly
	}

	ts.commitMu.Lock()
	defer ts.commitMu.Unlock()

	ts.vmu.Lock()
	expected := ts.currentVersion
	ts.vmu.Unlock()
	if t.VersionID != expected {
		return vtreeerr.ErrNonSequentialVersion
	}

	ts.st.LockForWrite()
	defer ts.st.UnlockForWrite()

	root, err := t.CheckOut()
	if err != nil {
		return ts.setCritical(vtreeerr.NewCriticalStop(err))
	}

	newVersion := expected + 1
	ts.vmu.Lock()
	ts.currentVersion = newVersion
	oldRoot := ts.currentRoot
	ts.currentRoot = root
	ts.pinCount[newVersion]++
	ts.vmu.Unlock()
	_ = oldRoot

	if err := ts.persistConfig(); err != nil {
		return ts.setCritical(vtreeerr.NewCriticalStop(err))
	}

	ts.vmu.Lock()
	ts.pendingDelete[expected] = append(ts.pendingDelete[expected], t.DeletedLeaves...)
	ts.vmu.Unlock()

	ts.unpin(t.VersionID)
	ts.unpin(newVersion)
	return nil
}

// unpin decrements version's reader count and reclaims any leaves queued
// for deletion once no reader or in-flight transaction can still see them.
func (ts *TreeSystem) unpin(version uint64) {
	ts.vmu.Lock()
	ts.pinCount[version]--
	if ts.pinCount[version] > 0 {
		ts.vmu.Unlock()
		return
	}
	delete(ts.pinCount, version)
	leaves := ts.pendingDelete[version]
	delete(ts.pendingDelete, version)
	ts.vmu.Unlock()

	for _, ref := range leaves {
		_ = ts.DisposeNode(ref)
	}
}

// CheckPoint flushes the underlying store's durability boundary.
func (ts *TreeSystem) CheckPoint() error {
	return ts.st.CheckPoint()
}

// Close releases the underlying store.
func (ts *TreeSystem) Close() error {
	return ts.st.Close()
}

// CacheStats reports the interior-node cache's hit/miss counters.
func (ts *TreeSystem) CacheStats() vcache.Stats {
	return ts.cache.Stats()
}
