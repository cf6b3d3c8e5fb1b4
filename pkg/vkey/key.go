// Package vkey implements the 14-byte ordered key used to address a
// DataFile within the tree: a 16-bit type, a 32-bit secondary component,
// and a 64-bit primary component, packed into two 64-bit words for branch
// storage.
package vkey

import "vtree/pkg/vtreeerr"

// Key is a totally ordered identifier for one logical data file.
type Key struct {
	Type      uint16
	Secondary uint32
	Primary   uint64
}

// reservedTypeFloor and reservedPrimaryBand mark the reserved range refused
// for user data: Type >= 0x7F80, or Primary <= MinPrimary+16.
const (
	reservedTypeFloor  = 0x7F80
	reservedPrimaryBand = 16
)

// MinPrimary is the floor of the primary component's value space; the
// reserved band occupies [MinPrimary, MinPrimary+16].
const MinPrimary uint64 = 0

// HeadKey is strictly less than any valid or reserved key.
var HeadKey = Key{Type: 0, Secondary: 0, Primary: 0}

// TailKey is strictly greater than any valid or reserved key.
var TailKey = Key{Type: 0xFFFF, Secondary: 0xFFFFFFFF, Primary: ^uint64(0)}

// Compare orders a, b lexicographically over (Type, Secondary, Primary) as
// unsigned values; HeadKey/TailKey are ordinary values under this order and
// happen to bracket everything else.
func Compare(a, b Key) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	if a.Secondary != b.Secondary {
		if a.Secondary < b.Secondary {
			return -1
		}
		return 1
	}
	switch {
	case a.Primary < b.Primary:
		return -1
	case a.Primary > b.Primary:
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b compare equal.
func Equal(a, b Key) bool { return Compare(a, b) == 0 }

// IsReserved reports whether k falls in the range refused for user data.
func IsReserved(k Key) bool {
	if k == HeadKey || k == TailKey {
		return true
	}
	return k.Type >= reservedTypeFloor || k.Primary <= reservedPrimaryBand
}

// Validate returns ErrReservedKey if k may not be used for user data.
func Validate(k Key) error {
	if IsReserved(k) {
		return vtreeerr.ErrReservedKey
	}
	return nil
}

// Pack encodes k into the two 64-bit words a branch stores alongside each
// separator position: hi carries Type in bits 48..63 and Secondary in bits
// 16..47, and lo carries all of Primary.
func Pack(k Key) (hi, lo uint64) {
	hi = uint64(k.Type)<<48 | uint64(k.Secondary)<<16
	lo = k.Primary
	return hi, lo
}

// Unpack reverses Pack.
func Unpack(hi, lo uint64) Key {
	return Key{
		Type:      uint16(hi >> 48),
		Secondary: uint32(hi >> 16),
		Primary:   lo,
	}
}
