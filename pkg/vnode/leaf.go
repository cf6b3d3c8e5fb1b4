package vnode

import "vtree/pkg/vtreeerr"

// Leaf is a contiguous byte payload belonging to exactly one key. Its
// capacity is fixed at MaxLeaf; Size tracks how much of that capacity is
// live. Store-resident (Frozen) leaves are shareable and must error on any
// mutator — callers reach mutation only through Clone (unfreeze).
type Leaf struct {
	Frozen   bool
	Data     []byte // len(Data) == capacity, only Data[:Size] is live
	Size     int
	RefCount uint32
}

// NewLeaf allocates a blank mutable leaf with the given capacity.
func NewLeaf(capacity int) *Leaf {
	return &Leaf{Data: make([]byte, capacity), RefCount: 1}
}

// Get copies Size-bounded bytes [pos, pos+len) into buf[off:].
func (l *Leaf) Get(pos int, buf []byte, off, n int) error {
	if pos < 0 || pos+n > l.Size {
		return vtreeerr.ErrOutOfBounds
	}
	copy(buf[off:off+n], l.Data[pos:pos+n])
	return nil
}

// Put writes buf[off:off+n] at pos, extending Size if pos+n exceeds it.
// Store-resident leaves reject mutation outright.
func (l *Leaf) Put(pos int, buf []byte, off, n int) error {
	if l.Frozen {
		return vtreeerr.ErrReadOnly
	}
	if pos < 0 || pos+n > len(l.Data) {
		return vtreeerr.ErrOutOfBounds
	}
	copy(l.Data[pos:pos+n], buf[off:off+n])
	if pos+n > l.Size {
		l.Size = pos + n
	}
	return nil
}

// Shift moves the bytes at or after pos by delta: forward (delta>0) opens
// a zero-filled gap of delta bytes at pos, growing Size up to capacity;
// backward (delta<0) removes the -delta bytes starting at pos and pulls the
// later bytes back, shrinking Size. It fails if the grow would run past
// capacity or the removed bytes would run past Size.
func (l *Leaf) Shift(pos int, delta int) error {
	if l.Frozen {
		return vtreeerr.ErrReadOnly
	}
	if pos < 0 || pos > l.Size {
		return vtreeerr.ErrOutOfBounds
	}
	newSize := l.Size + delta
	if newSize < pos || newSize > len(l.Data) {
		return vtreeerr.ErrOutOfBounds
	}
	if delta > 0 {
		copy(l.Data[pos+delta:newSize], l.Data[pos:l.Size])
		clear(l.Data[pos : pos+delta])
	} else if delta < 0 {
		copy(l.Data[pos:newSize], l.Data[pos-delta:l.Size])
	}
	l.Size = newSize
	return nil
}

// SetSize truncates or extends the live region without touching bytes
// already present; newly exposed bytes are whatever Data already holds
// there (typically zero for a fresh leaf).
func (l *Leaf) SetSize(n int) error {
	if l.Frozen {
		return vtreeerr.ErrReadOnly
	}
	if n < 0 || n > len(l.Data) {
		return vtreeerr.ErrOutOfBounds
	}
	l.Size = n
	return nil
}

// SpareCapacity returns how many more bytes could be appended before the
// leaf must split.
func (l *Leaf) SpareCapacity() int { return len(l.Data) - l.Size }

// Clone returns a heap-resident, mutable copy for use after unfreeze. The
// clone starts with RefCount 1: a fresh heap leaf is not yet linked into
// the store's accounting.
func (l *Leaf) Clone() *Leaf {
	data := make([]byte, len(l.Data))
	copy(data, l.Data)
	return &Leaf{Data: data, Size: l.Size, RefCount: 1}
}
