package vkey

import "testing"

func TestCompareOrdersByTypeThenSecondaryThenPrimary(t *testing.T) {
	cases := []struct {
		a, b Key
		want int
	}{
		{Key{Type: 1}, Key{Type: 2}, -1},
		{Key{Type: 2}, Key{Type: 1}, 1},
		{Key{Type: 1, Secondary: 1}, Key{Type: 1, Secondary: 2}, -1},
		{Key{Type: 1, Secondary: 1, Primary: 5}, Key{Type: 1, Secondary: 1, Primary: 5}, 0},
		{Key{Type: 1, Secondary: 1, Primary: 9}, Key{Type: 1, Secondary: 1, Primary: 5}, 1},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%+v, %+v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestHeadAndTailBracketEverything(t *testing.T) {
	k := Key{Type: 100, Secondary: 5, Primary: 1000}
	if Compare(HeadKey, k) >= 0 {
		t.Errorf("HeadKey must compare less than an ordinary key")
	}
	if Compare(TailKey, k) <= 0 {
		t.Errorf("TailKey must compare greater than an ordinary key")
	}
}

func TestIsReservedBoundaries(t *testing.T) {
	if !IsReserved(HeadKey) || !IsReserved(TailKey) {
		t.Errorf("sentinels must be reserved")
	}
	if !IsReserved(Key{Type: reservedTypeFloor}) {
		t.Errorf("type at the reserved floor must be reserved")
	}
	if IsReserved(Key{Type: reservedTypeFloor - 1, Primary: reservedPrimaryBand + 1}) == true {
		t.Errorf("type just below the floor with a primary above the band must not be reserved")
	}
	if !IsReserved(Key{Type: 1, Primary: reservedPrimaryBand}) {
		t.Errorf("primary within the reserved band must be reserved")
	}
	if IsReserved(Key{Type: 1, Primary: reservedPrimaryBand + 1}) {
		t.Errorf("primary just past the reserved band must not be reserved")
	}
}

func TestValidateRejectsReservedKeys(t *testing.T) {
	if err := Validate(HeadKey); err == nil {
		t.Errorf("Validate(HeadKey) should fail")
	}
	if err := Validate(Key{Type: 1, Primary: 1000}); err != nil {
		t.Errorf("Validate(ordinary key) unexpected error: %v", err)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	k := Key{Type: 0xABCD, Secondary: 0x12345678, Primary: 0x0102030405060708}
	hi, lo := Pack(k)
	got := Unpack(hi, lo)
	if got != k {
		t.Errorf("Pack/Unpack round trip: got %+v, want %+v", got, k)
	}
}
