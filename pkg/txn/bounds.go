package txn

import (
	"vtree/pkg/noderef"
	"vtree/pkg/vkey"
)

// keyBounds returns the global byte offsets at which key's data begins and
// ends. Equal start and end means key currently holds no data.
func (s *pathStack) keyBounds(key vkey.Key) (start, end uint64, err error) {
	start, err = s.keyBoundaryOffset(key, true)
	if err != nil {
		return 0, 0, err
	}
	end, err = s.keyBoundaryOffset(key, false)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		end = start
	}
	return start, end, nil
}

func (s *pathStack) keyBoundaryOffset(key vkey.Key, first bool) (uint64, error) {
	var total uint64
	ref := s.t.RootRef
	for {
		branch, leaf, sparse, err := s.fetch(ref)
		if err != nil {
			return 0, err
		}
		if branch == nil {
			if !first {
				if leaf != nil {
					return total + uint64(leaf.Size), nil
				}
				return total + uint64(sparse.Len), nil
			}
			return total, nil
		}
		var idx int
		if first {
			idx = branch.SearchFirst(key)
			if idx < 0 {
				idx = -idx - 1
			}
		} else {
			idx = branch.SearchLast(key)
		}
		if idx >= len(branch.Children) {
			idx = len(branch.Children) - 1
		}
		for i := 0; i < idx; i++ {
			total += branch.Counts[i]
		}
		ref = branch.Children[idx]
	}
}

// locateByGlobalOffset resolves a raw tree-wide byte offset to the key that
// governs it, the leaf (or sparse run) backing it, and the offset local to
// that key's own data. Used by DataRange's position-relative cursor, which
// walks the whole byte axis rather than one key's slice of it.
func (s *pathStack) locateByGlobalOffset(pos uint64) (key vkey.Key, leafRef noderef.Ref, keyLocalOffset uint64, err error) {
	key = vkey.HeadKey
	ref := s.t.RootRef
	remaining := pos
	for {
		branch, _, _, ferr := s.fetch(ref)
		if ferr != nil {
			return vkey.Key{}, noderef.Nil, 0, ferr
		}
		if branch == nil {
			return key, ref, remaining, nil
		}
		var idx int
		var consumed uint64
		for i, c := range branch.Counts {
			if i == len(branch.Counts)-1 || remaining < consumed+c {
				idx = i
				break
			}
			consumed += c
		}
		if idx > 0 {
			key = branch.Keys[idx-1]
		}
		remaining -= consumed
		ref = branch.Children[idx]
	}
}

// totalBytes returns the whole tree's byte size, the upper bound of the
// global offset axis DataRange operates over.
func (s *pathStack) totalBytes() (uint64, error) {
	return s.subtreeBytes(s.t.RootRef)
}
