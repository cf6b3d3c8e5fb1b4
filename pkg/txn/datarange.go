package txn

import (
	"vtree/pkg/vkey"
	"vtree/pkg/vtreeerr"
)

// DataRange is a cursor over a bounded window [lowerKey, upperKey] of the
// tree's byte axis, inclusive of every byte either boundary key itself
// owns. Where DataFile addresses one key's bytes, DataRange is the
// iteration surface: it knows how to walk from one key to the next or
// previous within its window, and to report which key owns an arbitrary
// position there.
//
// A DataRange is stamped with the transaction's update version at every
// point its cursor is repositioned; any read through it after some other
// mutation has advanced that version fails fast with
// ErrConcurrentModification rather than silently reading a stale position
// against a changed tree shape.
type DataRange struct {
	txn      *Transaction
	lowerKey vkey.Key
	upperKey vkey.Key
	pos      uint64
	stamp    uint64
}

// NewDataRange returns a DataRange windowed to [lowerKey, upperKey],
// positioned at the start of that window. lowerKey must not compare
// greater than upperKey.
func NewDataRange(t *Transaction, lowerKey, upperKey vkey.Key) (*DataRange, error) {
	if vkey.Compare(lowerKey, upperKey) > 0 {
		return nil, vtreeerr.ErrOutOfBounds
	}
	r := &DataRange{txn: t, lowerKey: lowerKey, upperKey: upperKey}
	start, _, err := r.bounds()
	if err != nil {
		return nil, err
	}
	r.pos = start
	r.refreshStamp()
	return r, nil
}

// bounds resolves the window's current tree-wide [start, end) offsets.
func (r *DataRange) bounds() (start, end uint64, err error) {
	start, err = r.txn.stack.keyBoundaryOffset(r.lowerKey, true)
	if err != nil {
		return 0, 0, err
	}
	end, err = r.txn.stack.keyBoundaryOffset(r.upperKey, false)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		end = start
	}
	return start, end, nil
}

func (r *DataRange) refreshStamp() {
	r.stamp = r.txn.UpdateVersion()
}

func (r *DataRange) checkStamp() error {
	if r.stamp != r.txn.UpdateVersion() {
		return vtreeerr.ErrConcurrentModification
	}
	return nil
}

// Size returns the window's total byte length across every key it spans.
func (r *DataRange) Size() (uint64, error) {
	start, end, err := r.bounds()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// Position returns the cursor's current tree-wide offset.
func (r *DataRange) Position() uint64 { return r.pos }

// SetPosition moves the cursor to an arbitrary tree-wide offset, clamped
// to the window's bounds.
func (r *DataRange) SetPosition(p uint64) error {
	start, end, err := r.bounds()
	if err != nil {
		return err
	}
	if p < start {
		p = start
	}
	if p > end {
		p = end
	}
	r.pos = p
	r.refreshStamp()
	return nil
}

// KeyAtPosition reports which key owns the byte at the cursor's current
// position, and that key's own local offset there.
func (r *DataRange) KeyAtPosition() (key vkey.Key, keyLocalOffset uint64, err error) {
	if err := r.checkStamp(); err != nil {
		return vkey.Key{}, 0, err
	}
	key, _, keyLocalOffset, err = r.txn.stack.locateByGlobalOffset(r.pos)
	return key, keyLocalOffset, err
}

// PositionOnKeyStart moves the cursor to the first byte belonging to key,
// clamped to the window's bounds.
func (r *DataRange) PositionOnKeyStart(key vkey.Key) error {
	start, err := r.txn.stack.keyBoundaryOffset(key, true)
	if err != nil {
		return err
	}
	return r.SetPosition(start)
}

// PositionOnNextKey advances the cursor to the first byte of the key
// immediately following the one currently under it, reporting ok=false if
// the current key is already the last one the window spans.
func (r *DataRange) PositionOnNextKey() (ok bool, err error) {
	key, _, err := r.KeyAtPosition()
	if err != nil {
		return false, err
	}
	_, end, err := r.txn.stack.keyBounds(key)
	if err != nil {
		return false, err
	}
	_, windowEnd, err := r.bounds()
	if err != nil {
		return false, err
	}
	if end >= windowEnd {
		return false, nil
	}
	r.pos = end
	r.refreshStamp()
	return true, nil
}

// PositionOnPreviousKey moves the cursor to the first byte of the key
// immediately preceding the one currently under it, reporting ok=false if
// the current key is already the first one the window spans.
func (r *DataRange) PositionOnPreviousKey() (ok bool, err error) {
	key, _, err := r.KeyAtPosition()
	if err != nil {
		return false, err
	}
	start, _, err := r.txn.stack.keyBounds(key)
	if err != nil {
		return false, err
	}
	windowStart, _, err := r.bounds()
	if err != nil {
		return false, err
	}
	if start <= windowStart {
		return false, nil
	}
	prevKey, _, _, err := r.txn.stack.locateByGlobalOffset(start - 1)
	if err != nil {
		return false, err
	}
	prevStart, _, err := r.txn.stack.keyBounds(prevKey)
	if err != nil {
		return false, err
	}
	r.pos = prevStart
	r.refreshStamp()
	return true, nil
}

// GetDataFile binds a DataFile to whatever key currently governs the
// cursor's position.
func (r *DataRange) GetDataFile() (*DataFile, error) {
	key, _, err := r.KeyAtPosition()
	if err != nil {
		return nil, err
	}
	return NewDataFile(r.txn, key)
}

// GetDataFileForKey binds a DataFile to an explicitly named key, without
// regard to the range cursor's current position. The key need not fall
// within the window.
func (r *DataRange) GetDataFileForKey(key vkey.Key) (*DataFile, error) {
	return NewDataFile(r.txn, key)
}

// Delete removes every key's data the window currently spans, leaving
// keys outside [lowerKey, upperKey] untouched.
func (r *DataRange) Delete() error {
	if err := r.txn.requireWritable(); err != nil {
		return err
	}
	start, end, err := r.bounds()
	if err != nil {
		return err
	}
	if start == end {
		return nil
	}
	if err := r.txn.stack.removeAbsoluteBounds(start, end); err != nil {
		return err
	}
	r.pos = start
	r.refreshStamp()
	return nil
}

// ReplicateFrom overwrites this range's window with other's, copying key
// by key since every leaf operation in this tree is anchored to the key
// owning it rather than a flat, key-agnostic byte axis. Both ranges must
// share the same [lowerKey, upperKey] window.
func (r *DataRange) ReplicateFrom(other *DataRange) error {
	if err := r.txn.requireWritable(); err != nil {
		return err
	}
	if err := r.Delete(); err != nil {
		return err
	}
	cursor, err := NewDataRange(other.txn, other.lowerKey, other.upperKey)
	if err != nil {
		return err
	}
	for {
		size, err := cursor.Size()
		if err != nil {
			return err
		}
		if size == 0 {
			return nil
		}
		key, _, err := cursor.KeyAtPosition()
		if err != nil {
			return err
		}
		if !vkey.IsReserved(key) {
			srcFile, err := NewDataFile(other.txn, key)
			if err != nil {
				return err
			}
			dstFile, err := NewDataFile(r.txn, key)
			if err != nil {
				return err
			}
			if err := dstFile.ReplicateFrom(srcFile); err != nil {
				return err
			}
		}
		ok, err := cursor.PositionOnNextKey()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}
