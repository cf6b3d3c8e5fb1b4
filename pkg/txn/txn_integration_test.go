package txn_test

import (
	"errors"
	"path/filepath"
	"testing"

	"vtree/pkg/store"
	"vtree/pkg/treesystem"
	"vtree/pkg/txn"
	"vtree/pkg/vkey"
	"vtree/pkg/vtreeerr"
)

func openTestTree(t *testing.T) *treesystem.TreeSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	st, err := store.Open(path, 1<<20)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	ts, err := treesystem.Open(st, treesystem.Options{MaxBranch: 6, MaxLeaf: 64})
	if err != nil {
		t.Fatalf("treesystem.Open: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func k(n uint64) vkey.Key { return vkey.Key{Type: 1, Primary: vkey.MinPrimary + 17 + n} }

func TestDataFileShiftGrowsAndShrinksInPlace(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	df, err := txn.NewDataFile(tr, k(0))
	if err != nil {
		t.Fatalf("NewDataFile: %v", err)
	}
	if err := df.PutBytes([]byte("0123456789")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	df.SetPosition(5)
	if err := df.Shift(3); err != nil {
		t.Fatalf("Shift grow: %v", err)
	}
	size, err := df.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 13 {
		t.Fatalf("Size after grow = %d, want 13", size)
	}

	if err := df.Shift(-3); err != nil {
		t.Fatalf("Shift shrink: %v", err)
	}
	size, err = df.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("Size after shrink = %d, want 10", size)
	}

	df.SetPosition(0)
	got, err := df.GetBytes(10)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("content after grow/shrink round trip = %q, want %q", got, "0123456789")
	}
}

func TestDataFileSetSizeTrimAndExtend(t *testing.T) {
	ts := openTestTree(t)
	tr, _ := ts.CreateTransaction(false)
	df, _ := txn.NewDataFile(tr, k(1))
	if err := df.PutBytes([]byte("abcdef")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := df.SetSize(3); err != nil {
		t.Fatalf("SetSize trim: %v", err)
	}
	size, _ := df.Size()
	if size != 3 {
		t.Fatalf("Size after trim = %d, want 3", size)
	}
	if err := df.SetSize(10); err != nil {
		t.Fatalf("SetSize extend: %v", err)
	}
	size, _ = df.Size()
	if size != 10 {
		t.Fatalf("Size after extend = %d, want 10", size)
	}
}

func TestDataFileDeleteRemovesKeyEntirely(t *testing.T) {
	ts := openTestTree(t)
	tr, _ := ts.CreateTransaction(false)
	df, _ := txn.NewDataFile(tr, k(2))
	if err := df.PutBytes([]byte("gone")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := df.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	size, err := df.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size after Delete = %d, want 0", size)
	}
}

func TestDataRangeNavigatesKeyBoundaries(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	for i := uint64(0); i < 5; i++ {
		df, _ := txn.NewDataFile(tr, k(i))
		if err := df.PutBytes([]byte{byte('a' + i)}); err != nil {
			t.Fatalf("PutBytes(%d): %v", i, err)
		}
	}

	rng, err := txn.NewDataRange(tr, vkey.HeadKey, vkey.TailKey)
	if err != nil {
		t.Fatalf("NewDataRange: %v", err)
	}
	if err := rng.PositionOnKeyStart(k(0)); err != nil {
		t.Fatalf("PositionOnKeyStart: %v", err)
	}
	seen := []vkey.Key{}
	for {
		key, _, err := rng.KeyAtPosition()
		if err != nil {
			t.Fatalf("KeyAtPosition: %v", err)
		}
		seen = append(seen, key)
		ok, err := rng.PositionOnNextKey()
		if err != nil {
			t.Fatalf("PositionOnNextKey: %v", err)
		}
		if !ok {
			break
		}
	}
	if len(seen) != 5 {
		t.Fatalf("visited %d keys, want 5", len(seen))
	}
	for i, key := range seen {
		if key != k(uint64(i)) {
			t.Fatalf("seen[%d] = %+v, want %+v", i, key, k(uint64(i)))
		}
	}

	ok, err := rng.PositionOnPreviousKey()
	if err != nil {
		t.Fatalf("PositionOnPreviousKey: %v", err)
	}
	if !ok {
		t.Fatalf("PositionOnPreviousKey from the last key should succeed")
	}
	key, _, err := rng.KeyAtPosition()
	if err != nil {
		t.Fatalf("KeyAtPosition: %v", err)
	}
	if key != k(3) {
		t.Fatalf("key after stepping back from the last = %+v, want %+v", key, k(3))
	}
}

func TestDataFileCopyFromAndBlockLocationMeta(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	src, _ := txn.NewDataFile(tr, k(10))
	if err := src.PutBytes([]byte("source-data")); err != nil {
		t.Fatalf("PutBytes src: %v", err)
	}
	dst, _ := txn.NewDataFile(tr, k(11))
	if err := dst.PutBytes([]byte("placeholder")); err != nil {
		t.Fatalf("PutBytes dst: %v", err)
	}

	if err := dst.CopyFrom(src, len("source-data")); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	dst.SetPosition(0)
	got, err := dst.GetBytes(len("source-data"))
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(got) != "source-data" {
		t.Fatalf("dst content after CopyFrom = %q, want %q", got, "source-data")
	}

	locA, err := src.GetBlockLocationMeta(0)
	if err != nil {
		t.Fatalf("GetBlockLocationMeta src: %v", err)
	}
	locB, err := dst.GetBlockLocationMeta(0)
	if err != nil {
		t.Fatalf("GetBlockLocationMeta dst: %v", err)
	}
	if !locA.Equal(locB) {
		t.Fatalf("CopyFrom onto a same-sized file should link src's leaf rather than copy its bytes")
	}
}

func TestDataFileCopyFromRejectsSelfCopy(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	df, _ := txn.NewDataFile(tr, k(12))
	if err := df.PutBytes([]byte("loopback")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	other, _ := txn.NewDataFile(tr, k(12))
	if err := df.CopyFrom(other, len("loopback")); !errors.Is(err, vtreeerr.ErrSelfCopy) {
		t.Fatalf("CopyFrom onto itself: got %v, want ErrSelfCopy", err)
	}
}

func TestDataRangeWindowExcludesKeysOutsideBounds(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	for i := uint64(0); i < 5; i++ {
		df, _ := txn.NewDataFile(tr, k(i))
		if err := df.PutBytes([]byte("xyz")); err != nil {
			t.Fatalf("PutBytes(%d): %v", i, err)
		}
	}

	rng, err := txn.NewDataRange(tr, k(1), k(3))
	if err != nil {
		t.Fatalf("NewDataRange: %v", err)
	}
	size, err := rng.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 9 {
		t.Fatalf("windowed Size() = %d, want 9 (keys 1..3)", size)
	}
	if err := rng.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	untouched0, _ := txn.NewDataFile(tr, k(0))
	s0, err := untouched0.Size()
	if err != nil {
		t.Fatalf("Size k(0): %v", err)
	}
	if s0 != 3 {
		t.Fatalf("key 0 outside the window should survive Delete, size = %d, want 3", s0)
	}
	untouched4, _ := txn.NewDataFile(tr, k(4))
	s4, err := untouched4.Size()
	if err != nil {
		t.Fatalf("Size k(4): %v", err)
	}
	if s4 != 3 {
		t.Fatalf("key 4 outside the window should survive Delete, size = %d, want 3", s4)
	}

	inside, _ := txn.NewDataFile(tr, k(2))
	sIn, err := inside.Size()
	if err != nil {
		t.Fatalf("Size k(2): %v", err)
	}
	if sIn != 0 {
		t.Fatalf("key 2 inside the window should be cleared by Delete, size = %d, want 0", sIn)
	}
}

func TestDataRangeFailsFastOnConcurrentModification(t *testing.T) {
	ts := openTestTree(t)
	tr, err := ts.CreateTransaction(false)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		df, _ := txn.NewDataFile(tr, k(i))
		if err := df.PutBytes([]byte("ab")); err != nil {
			t.Fatalf("PutBytes(%d): %v", i, err)
		}
	}

	rng, err := txn.NewDataRange(tr, vkey.HeadKey, vkey.TailKey)
	if err != nil {
		t.Fatalf("NewDataRange: %v", err)
	}
	if err := rng.PositionOnKeyStart(k(0)); err != nil {
		t.Fatalf("PositionOnKeyStart: %v", err)
	}

	other, _ := txn.NewDataFile(tr, k(1))
	if err := other.PutBytes([]byte("more")); err != nil {
		t.Fatalf("PutBytes(1): %v", err)
	}

	if _, _, err := rng.KeyAtPosition(); !errors.Is(err, vtreeerr.ErrConcurrentModification) {
		t.Fatalf("KeyAtPosition after an unrelated mutation: got %v, want ErrConcurrentModification", err)
	}
}
