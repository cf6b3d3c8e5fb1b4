// Package treesystem ties the tree core (pkg/txn, pkg/vnode, pkg/vcache)
// to a concrete store.Store: it owns the on-disk header and config areas,
// serializes commits, and implements txn.StoreBridge so a Transaction can
// fetch store-resident nodes and flush its heap back into the store.
package treesystem

import (
	"encoding/binary"
	"fmt"

	"vtree/pkg/noderef"
)

// configMagic tags the config area; decodeConfig rejects a record that
// does not start with it.
const configMagic = 0x76545243 // "vTRC"

// configRecord is the single persisted on-disk structure this package
// keeps: the current committed version number, its root reference, and
// the node-size limits the tree was built with. Per-version history
// needed by still-open readers lives only in memory (see DESIGN.md) —
// full multi-version on-disk retention would need a journal/compaction
// design the store boundary deliberately keeps out of core scope.
type configRecord struct {
	version   uint64
	root      noderef.Ref
	maxBranch uint32
	maxLeaf   uint32
}

const configRecordSize = 4 + 4 + 8 + 16 + 4 + 4 // magic+pad, version, root, maxBranch, maxLeaf

func encodeConfig(c configRecord) []byte {
	out := make([]byte, configRecordSize)
	binary.LittleEndian.PutUint32(out[0:4], configMagic)
	binary.LittleEndian.PutUint64(out[8:16], c.version)
	binary.LittleEndian.PutUint64(out[16:24], c.root.Hi)
	binary.LittleEndian.PutUint64(out[24:32], c.root.Lo)
	binary.LittleEndian.PutUint32(out[32:36], c.maxBranch)
	binary.LittleEndian.PutUint32(out[36:40], c.maxLeaf)
	return out
}

func decodeConfig(buf []byte) (configRecord, error) {
	if len(buf) < configRecordSize {
		return configRecord{}, fmt.Errorf("treesystem: config record truncated: %d bytes", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != configMagic {
		return configRecord{}, fmt.Errorf("treesystem: bad config magic 0x%08X", magic)
	}
	return configRecord{
		version:   binary.LittleEndian.Uint64(buf[8:16]),
		root:      noderef.Ref{Hi: binary.LittleEndian.Uint64(buf[16:24]), Lo: binary.LittleEndian.Uint64(buf[24:32])},
		maxBranch: binary.LittleEndian.Uint32(buf[32:36]),
		maxLeaf:   binary.LittleEndian.Uint32(buf[36:40]),
	}, nil
}

// headerMagic tags byte 0 of the header area, which persistConfig allocates
// right after the config area: it carries nothing but the config area's
// id, so the config record itself can be rewritten in place (same size,
// same area) on every commit without touching the header.
const headerMagic = 0x76545248 // "vTRH"

const headerRecordSize = 4 + 4 + 8 // magic, pad, configAreaID

func encodeHeader(configAreaID uint64) []byte {
	out := make([]byte, headerRecordSize)
	binary.LittleEndian.PutUint32(out[0:4], headerMagic)
	binary.LittleEndian.PutUint64(out[8:16], configAreaID)
	return out
}

func decodeHeader(buf []byte) (configAreaID uint64, err error) {
	if len(buf) < headerRecordSize {
		return 0, fmt.Errorf("treesystem: header record truncated: %d bytes", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return 0, fmt.Errorf("treesystem: bad header magic 0x%08X", magic)
	}
	return binary.LittleEndian.Uint64(buf[8:16]), nil
}
