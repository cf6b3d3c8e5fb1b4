package vnode

import (
	"testing"

	"vtree/pkg/noderef"
)

func TestSparseRefRoundTrip(t *testing.T) {
	s := SparseLeaf{Byte: 'z', Len: 1234}
	ref, ok := s.Ref()
	if !ok {
		t.Fatalf("Ref() reported not ok for an in-range length")
	}
	got := FromRef(ref)
	if got != s {
		t.Fatalf("FromRef(Ref()) = %+v, want %+v", got, s)
	}
}

func TestSparseRefRejectsOverlongRun(t *testing.T) {
	s := SparseLeaf{Byte: 'z', Len: MaxSparseLen + 1}
	if _, ok := s.Ref(); ok {
		t.Fatalf("Ref() should reject a run longer than MaxSparseLen")
	}
}

func TestSparseGetFillsRequestedRange(t *testing.T) {
	s := SparseLeaf{Byte: 'q', Len: 100}
	buf := make([]byte, 10)
	s.Get(5, buf, 0, 10)
	for i, b := range buf {
		if b != 'q' {
			t.Fatalf("buf[%d] = %q, want 'q'", i, b)
		}
	}
}

func TestSparseMaterializeProducesEquivalentLeaf(t *testing.T) {
	s := SparseLeaf{Byte: 'a', Len: 5}
	l := s.Materialize(16)
	if l.Size != 5 {
		t.Fatalf("materialized Size = %d, want 5", l.Size)
	}
	for i := 0; i < l.Size; i++ {
		if l.Data[i] != 'a' {
			t.Fatalf("materialized Data[%d] = %q, want 'a'", i, l.Data[i])
		}
	}
}

func TestFromRefPanicsOnNonSparse(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("FromRef on a non-sparse ref should panic")
		}
	}()
	FromRef(noderef.Store(1))
}
