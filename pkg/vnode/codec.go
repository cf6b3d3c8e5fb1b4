package vnode

import (
	"encoding/binary"
	"fmt"

	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
)

const (
	leafNodeType   = 0x019EC
	leafNodeVer    = 1
	branchNodeType = 0x022EB
	branchNodeVer  = 1
)

// EncodeLeaf serializes l per the on-disk leaf layout: u16 type, u16
// version, u32 refCount, u32 payloadLength, then the payload bytes.
func EncodeLeaf(l *Leaf) []byte {
	out := make([]byte, 2+2+4+4+l.Size)
	binary.LittleEndian.PutUint16(out[0:2], leafNodeType)
	binary.LittleEndian.PutUint16(out[2:4], leafNodeVer)
	binary.LittleEndian.PutUint32(out[4:8], l.RefCount)
	binary.LittleEndian.PutUint32(out[8:12], uint32(l.Size))
	copy(out[12:], l.Data[:l.Size])
	return out
}

// DecodeLeaf parses the on-disk leaf layout produced by EncodeLeaf. The
// returned leaf is frozen: it is store-resident until unfrozen.
func DecodeLeaf(buf []byte, capacity int) (*Leaf, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("vnode: leaf record truncated: %d bytes", len(buf))
	}
	typ := binary.LittleEndian.Uint16(buf[0:2])
	if typ != leafNodeType {
		return nil, fmt.Errorf("vnode: unexpected leaf type tag 0x%04X", typ)
	}
	refCount := binary.LittleEndian.Uint32(buf[4:8])
	size := int(binary.LittleEndian.Uint32(buf[8:12]))
	if len(buf) < 12+size {
		return nil, fmt.Errorf("vnode: leaf payload truncated: want %d have %d", size, len(buf)-12)
	}
	if capacity < size {
		capacity = size
	}
	data := make([]byte, capacity)
	copy(data, buf[12:12+size])
	return &Leaf{Frozen: true, Data: data, Size: size, RefCount: refCount}, nil
}

// EncodeBranch serializes b per the on-disk branch layout: u16 type, u16
// version, u32 wordCount, then wordCount x u64 words laid out as
// [refHigh, refLow, subtreeByteCount] triplets per child, separated by
// 128-bit keys.
func EncodeBranch(b *Branch) []byte {
	n := len(b.Children)
	wordCount := 5*n - 2
	out := make([]byte, 8+8*wordCount)
	binary.LittleEndian.PutUint16(out[0:2], branchNodeType)
	binary.LittleEndian.PutUint16(out[2:4], branchNodeVer)
	binary.LittleEndian.PutUint32(out[4:8], uint32(wordCount))

	words := make([]uint64, 0, wordCount)
	for i := 0; i < n; i++ {
		words = append(words, b.Children[i].Hi, b.Children[i].Lo, b.Counts[i])
		if i < n-1 {
			hi, lo := vkey.Pack(b.Keys[i])
			words = append(words, hi, lo)
		}
	}
	off := 8
	for _, w := range words {
		binary.LittleEndian.PutUint64(out[off:off+8], w)
		off += 8
	}
	return out
}

// DecodeBranch parses the on-disk branch layout produced by EncodeBranch.
// The returned branch is frozen.
func DecodeBranch(buf []byte) (*Branch, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("vnode: branch record truncated: %d bytes", len(buf))
	}
	typ := binary.LittleEndian.Uint16(buf[0:2])
	if typ != branchNodeType {
		return nil, fmt.Errorf("vnode: unexpected branch type tag 0x%04X", typ)
	}
	wordCount := int(binary.LittleEndian.Uint32(buf[4:8]))
	if len(buf) < 8+8*wordCount {
		return nil, fmt.Errorf("vnode: branch words truncated: want %d have %d", wordCount, (len(buf)-8)/8)
	}
	words := make([]uint64, wordCount)
	off := 8
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	// wordCount = 5n - 2  =>  n = (wordCount + 2) / 5
	n := (wordCount + 2) / 5
	if n < 2 || 5*n-2 != wordCount {
		return nil, fmt.Errorf("vnode: branch word count %d does not decode to a valid child count", wordCount)
	}
	b := &Branch{
		Frozen:   true,
		Children: make([]noderef.Ref, n),
		Counts:   make([]uint64, n),
		Keys:     make([]vkey.Key, n-1),
	}
	wi := 0
	for i := 0; i < n; i++ {
		b.Children[i] = noderef.Ref{Hi: words[wi], Lo: words[wi+1]}
		b.Counts[i] = words[wi+2]
		wi += 3
		if i < n-1 {
			b.Keys[i] = vkey.Unpack(words[wi], words[wi+1])
			wi += 2
		}
	}
	return b, nil
}
