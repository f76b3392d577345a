package common

import "testing"

func TestValue128AddSub(t *testing.T) {
	a := Value128{Lo: ^uint64(0), Hi: 0}
	b := NewValue128(1)
	sum := a.Add(b)
	if sum.Lo != 0 || sum.Hi != 1 {
		t.Fatalf("carry not propagated: got %+v", sum)
	}
	back := sum.Sub(b)
	if back != a {
		t.Fatalf("sub did not invert add: got %+v want %+v", back, a)
	}
}

func TestValue128Bytes16RoundTrip(t *testing.T) {
	v := Value128{Lo: 0x0102030405060708, Hi: 0x1112131415161718}
	enc := v.Bytes16()
	got := Value128FromBytes16(enc)
	if got != v {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestValue128Cmp(t *testing.T) {
	small := NewValue128(1)
	big := Value128{Lo: 0, Hi: 1}
	if small.Cmp(big) >= 0 {
		t.Fatalf("expected small < big")
	}
	if big.Cmp(small) <= 0 {
		t.Fatalf("expected big > small")
	}
	if small.Cmp(small) != 0 {
		t.Fatalf("expected equal")
	}
}

func TestHashAndActorIDCodec(t *testing.T) {
	h := HexToHash("0x0102")
	if h.IsZero() {
		t.Fatalf("expected non-zero hash")
	}
	if h[31] != 0x02 || h[30] != 0x01 {
		t.Fatalf("unexpected byte layout: %x", h)
	}
	a := BytesToActorID(h.Bytes())
	if a.Hex() != h.Hex() {
		t.Fatalf("actor id round trip mismatch: %s vs %s", a.Hex(), h.Hex())
	}
}

func TestSortActorIDs(t *testing.T) {
	ids := []ActorID{
		BytesToActorID([]byte{3}),
		BytesToActorID([]byte{1}),
		BytesToActorID([]byte{2}),
	}
	SortActorIDs(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i-1].Cmp(ids[i]) > 0 {
			t.Fatalf("not sorted: %v", ids)
		}
	}
}
