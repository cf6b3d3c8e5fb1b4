package txn

import (
	"encoding/binary"

	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
	"vtree/pkg/vtreeerr"
)

// DataFile is a cursor-bearing view onto one key's byte-addressable data
// within a transaction. Every read/write primitive advances pos; callers
// needing random access reposition with SetPosition(p) first.
type DataFile struct {
	txn *Transaction
	key vkey.Key
	pos uint64

	cachedUpdateVersion uint64
	cachedSize          uint64
	haveCachedSize      bool
}

// NewDataFile binds a DataFile to key within t, positioned at the start.
func NewDataFile(t *Transaction, key vkey.Key) (*DataFile, error) {
	if err := vkey.Validate(key); err != nil {
		return nil, err
	}
	return &DataFile{txn: t, key: key}, nil
}

// Size returns the current byte length of key's data, walking the tree
// once per mutation and caching the result against the transaction's
// update-version counter otherwise.
func (d *DataFile) Size() (uint64, error) {
	if d.haveCachedSize && d.sizeStillValid() {
		return d.cachedSize, nil
	}
	size, err := d.computeSize()
	if err != nil {
		return 0, err
	}
	d.cachedSize = size
	d.cachedUpdateVersion = d.txn.UpdateVersion()
	d.haveCachedSize = true
	return size, nil
}

func (d *DataFile) sizeStillValid() bool {
	if d.cachedUpdateVersion == d.txn.UpdateVersion() {
		return true
	}
	watermark, ok := d.txn.LowestSizeChangedKey()
	return ok && vkey.Compare(d.key, watermark) < 0
}

// computeSize finds key's total byte length via the stack's shared
// boundary search.
func (d *DataFile) computeSize() (uint64, error) {
	start, end, err := d.txn.stack.keyBounds(d.key)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

func (d *DataFile) invalidateSize() {
	d.haveCachedSize = false
}

// Position returns the cursor's current offset.
func (d *DataFile) Position() uint64 { return d.pos }

// SetPosition moves the cursor to p without touching any data.
func (d *DataFile) SetPosition(p uint64) { d.pos = p }

func (d *DataFile) ensureRoom(n int) error {
	size, err := d.Size()
	if err != nil {
		return err
	}
	end := d.pos + uint64(n)
	if end <= size {
		return nil
	}
	grow := int(end - size)
	if err := d.txn.stack.shiftData(d.key, size, grow, size); err != nil {
		return err
	}
	d.invalidateSize()
	return nil
}

func (d *DataFile) readExact(buf []byte) error {
	size, err := d.Size()
	if err != nil {
		return err
	}
	if d.pos+uint64(len(buf)) > size {
		return vtreeerr.ErrOutOfBounds
	}
	if err := d.txn.stack.readInto(d.key, d.pos, buf, 0, len(buf)); err != nil {
		return err
	}
	d.pos += uint64(len(buf))
	return nil
}

func (d *DataFile) writeExact(buf []byte) error {
	if err := d.txn.requireWritable(); err != nil {
		return err
	}
	if err := d.ensureRoom(len(buf)); err != nil {
		return err
	}
	if err := d.txn.stack.writeFrom(d.key, d.pos, buf, 0, len(buf)); err != nil {
		return err
	}
	d.pos += uint64(len(buf))
	return nil
}

// GetByte reads one byte at the cursor, advancing it by one.
func (d *DataFile) GetByte() (byte, error) {
	var buf [1]byte
	if err := d.readExact(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// PutByte writes one byte at the cursor, advancing it by one.
func (d *DataFile) PutByte(v byte) error {
	return d.writeExact([]byte{v})
}

// GetShort reads a big-endian uint16 at the cursor.
func (d *DataFile) GetShort() (uint16, error) {
	var buf [2]byte
	if err := d.readExact(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// PutShort writes a big-endian uint16 at the cursor.
func (d *DataFile) PutShort(v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return d.writeExact(buf[:])
}

// GetInt reads a big-endian uint32 at the cursor.
func (d *DataFile) GetInt() (uint32, error) {
	var buf [4]byte
	if err := d.readExact(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// PutInt writes a big-endian uint32 at the cursor.
func (d *DataFile) PutInt(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return d.writeExact(buf[:])
}

// GetLong reads a big-endian uint64 at the cursor.
func (d *DataFile) GetLong() (uint64, error) {
	var buf [8]byte
	if err := d.readExact(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// PutLong writes a big-endian uint64 at the cursor.
func (d *DataFile) PutLong(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return d.writeExact(buf[:])
}

// GetBytes reads n bytes at the cursor into a fresh slice.
func (d *DataFile) GetBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := d.readExact(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PutBytes writes buf at the cursor.
func (d *DataFile) PutBytes(buf []byte) error {
	return d.writeExact(buf)
}

// Shift grows (delta > 0) or shrinks (delta < 0) the file starting at the
// cursor by delta bytes, without moving the cursor. With the cursor at the
// end of the file, a shrink removes the last -delta bytes.
func (d *DataFile) Shift(delta int) error {
	if err := d.txn.requireWritable(); err != nil {
		return err
	}
	size, err := d.Size()
	if err != nil {
		return err
	}
	if err := d.txn.stack.shiftData(d.key, d.pos, delta, size); err != nil {
		return err
	}
	d.invalidateSize()
	return nil
}

// SetSize grows or trims the file to exactly n bytes.
func (d *DataFile) SetSize(n uint64) error {
	if err := d.txn.requireWritable(); err != nil {
		return err
	}
	size, err := d.Size()
	if err != nil {
		return err
	}
	if n == size {
		return nil
	}
	delta := int64(n) - int64(size)
	if err := d.txn.stack.shiftData(d.key, size, int(delta), size); err != nil {
		return err
	}
	d.invalidateSize()
	return nil
}

// Delete removes all of key's data.
func (d *DataFile) Delete() error {
	if err := d.txn.requireWritable(); err != nil {
		return err
	}
	size, err := d.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := d.txn.stack.shiftData(d.key, size, -int(size), size); err != nil {
		return err
	}
	d.pos = 0
	d.invalidateSize()
	return nil
}

// CopyFrom replaces this file's content with src's first n bytes, leaving
// the file exactly n bytes long; neither file's cursor moves. When src's whole first n bytes already form
// one complete leaf and this file's current content is exactly n bytes, the
// leaf is linked in directly (see tryLinkLeafFastPath) instead of being
// copied byte by byte; otherwise this falls back to the straightforward
// copy. Copying a file onto itself is rejected outright.
func (d *DataFile) CopyFrom(src *DataFile, n int) error {
	if err := d.txn.requireWritable(); err != nil {
		return err
	}
	if src.txn == d.txn && vkey.Equal(src.key, d.key) {
		return vtreeerr.ErrSelfCopy
	}
	if n > 0 {
		linked, err := d.tryLinkLeafFastPath(src, n)
		if err != nil {
			return err
		}
		if linked {
			d.invalidateSize()
			return nil
		}
	}

	buf := make([]byte, n)
	if err := src.txn.stack.readInto(src.key, 0, buf, 0, n); err != nil {
		return err
	}
	if err := d.SetSize(uint64(n)); err != nil {
		return err
	}
	if err := d.txn.stack.writeFrom(d.key, 0, buf, 0, n); err != nil {
		return err
	}
	d.invalidateSize()
	return nil
}

// tryLinkLeafFastPath attempts the zero-copy leaf-linking shortcut: when
// src's first n bytes are exactly one whole leaf and this file's current
// content is exactly n bytes, this file's existing leaf is dropped and a
// second reference to src's leaf is spliced in its place instead of copying
// its bytes. A store-resident donor leaf has its on-disk refcount bumped via
// LinkLeaf; a heap-resident donor (only reachable when src and this file
// share one transaction) is frozen in place so either side safely
// copy-on-writes independently from here on. Reports linked=false, with no
// error, whenever a precondition fails, so the caller falls back to the
// byte copy.
func (d *DataFile) tryLinkLeafFastPath(src *DataFile, n int) (linked bool, err error) {
	if src.txn.System != d.txn.System {
		return false, nil
	}
	dstSize, err := d.Size()
	if err != nil {
		return false, err
	}
	if dstSize != uint64(n) {
		return false, nil
	}

	if err := src.txn.stack.setupForPosition(src.key, 0); err != nil {
		return false, err
	}
	leafRef := src.txn.stack.leafRef
	_, leaf, _, err := src.txn.stack.fetch(leafRef)
	if err != nil {
		return false, err
	}
	if leaf == nil || leaf.Size != n {
		return false, nil
	}

	switch {
	case leafRef.IsStore():
		ok, err := d.txn.System.LinkLeaf(leafRef)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	case leafRef.IsHeap():
		if src.txn != d.txn {
			return false, nil
		}
		leaf.Frozen = true
	default:
		return false, nil
	}

	if err := d.SetSize(0); err != nil {
		return false, err
	}
	if err := d.txn.stack.setupForPosition(d.key, 0); err != nil {
		return false, err
	}
	if err := d.txn.stack.insertLeafRef(d.key, leafRef, uint64(n), false); err != nil {
		return false, err
	}
	return true, nil
}

// ReplicateFrom makes this file an exact copy of other's full contents.
func (d *DataFile) ReplicateFrom(other *DataFile) error {
	size, err := other.Size()
	if err != nil {
		return err
	}
	return d.CopyFrom(other, int(size))
}

// BlockLocationMeta opaquely identifies the leaf currently backing one
// byte offset of this file, letting a caller detect whether two offsets
// happen to share storage without exposing node references
// directly.
type BlockLocationMeta struct {
	ref noderef.Ref
}

// Equal reports whether two location tokens name the same backing leaf.
func (m BlockLocationMeta) Equal(other BlockLocationMeta) bool {
	return noderef.Equal(m.ref, other.ref)
}

// GetBlockLocationMeta resolves the leaf backing byte start within this
// key's data.
func (d *DataFile) GetBlockLocationMeta(start uint64) (BlockLocationMeta, error) {
	if err := d.txn.stack.setupForPosition(d.key, start); err != nil {
		return BlockLocationMeta{}, err
	}
	return BlockLocationMeta{ref: d.txn.stack.leafRef}, nil
}
