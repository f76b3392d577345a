// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import "testing"

func TestWaitlistInsertRejectsDuplicate(t *testing.T) {
	w := NewWaitlist()
	d := &Dispatch{MessageID: msgID(1)}
	if err := w.Insert(msgID(1), d, 100); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := w.Insert(msgID(1), d, 200); err != ErrAlreadyWaiting {
		t.Fatalf("expected ErrAlreadyWaiting, got %v", err)
	}
}

func TestWaitlistRemove(t *testing.T) {
	w := NewWaitlist()
	d := &Dispatch{MessageID: msgID(1)}
	w.Insert(msgID(1), d, 100)

	e, ok := w.Remove(msgID(1))
	if !ok || e.Expiry != 100 {
		t.Fatalf("Remove = %+v, %v; want expiry 100, true", e, ok)
	}
	if _, ok := w.Get(msgID(1)); ok {
		t.Fatal("entry still present after Remove")
	}
	if _, ok := w.Remove(msgID(1)); ok {
		t.Fatal("second Remove should report absent")
	}
}

func TestWaitlistBinaryRoundTripAndHashOrderIndependence(t *testing.T) {
	a := NewWaitlist()
	a.Insert(msgID(1), &Dispatch{MessageID: msgID(1)}, 10)
	a.Insert(msgID(2), &Dispatch{MessageID: msgID(2)}, 20)

	b := NewWaitlist()
	b.Insert(msgID(2), &Dispatch{MessageID: msgID(2)}, 20)
	b.Insert(msgID(1), &Dispatch{MessageID: msgID(1)}, 10)

	ha, err := a.Hash(nil)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	hb, err := b.Hash(nil)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if ha != hb {
		t.Fatalf("waitlist hash depends on insertion order: %v != %v", ha, hb)
	}

	enc, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := NewWaitlist()
	if err := got.UnmarshalBinary(enc); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("Len after round trip = %d, want 2", got.Len())
	}
	e, ok := got.Get(msgID(2))
	if !ok || e.Expiry != 20 {
		t.Fatalf("Get(msgID(2)) = %+v, %v; want expiry 20, true", e, ok)
	}
}

func TestWaitlistDirtyFlag(t *testing.T) {
	w := NewWaitlist()
	if w.Dirty() {
		t.Fatal("new waitlist must not be dirty")
	}
	w.Insert(msgID(1), &Dispatch{MessageID: msgID(1)}, 10)
	if !w.Dirty() {
		t.Fatal("expected dirty after Insert")
	}
	w.ClearDirty()
	if w.Dirty() {
		t.Fatal("expected clean after ClearDirty")
	}
}
