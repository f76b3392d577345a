// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import "testing"

func TestDispatchStashInsertRejectsDuplicate(t *testing.T) {
	s := NewDispatchStash()
	e := StashEntry{Dispatch: &Dispatch{MessageID: msgID(1)}, Expiry: 50}
	if err := s.Insert(msgID(1), e); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := s.Insert(msgID(1), e); err != ErrAlreadyStashed {
		t.Fatalf("expected ErrAlreadyStashed, got %v", err)
	}
}

func TestDispatchStashBinaryRoundTripWithAndWithoutUser(t *testing.T) {
	s := NewDispatchStash()
	s.Insert(msgID(1), StashEntry{Dispatch: &Dispatch{MessageID: msgID(1)}, Expiry: 10})
	s.Insert(msgID(2), StashEntry{
		Dispatch:  &Dispatch{MessageID: msgID(2)},
		Expiry:    20,
		HasUser:   true,
		Recipient: actor(9),
	})

	enc, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := NewDispatchStash()
	if err := got.UnmarshalBinary(enc); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	e1, ok := got.Get(msgID(1))
	if !ok || e1.HasUser || e1.Expiry != 10 {
		t.Fatalf("Get(msgID(1)) = %+v, %v", e1, ok)
	}
	e2, ok := got.Get(msgID(2))
	if !ok || !e2.HasUser || e2.Recipient != actor(9) || e2.Expiry != 20 {
		t.Fatalf("Get(msgID(2)) = %+v, %v", e2, ok)
	}
}

func TestDispatchStashRemove(t *testing.T) {
	s := NewDispatchStash()
	s.Insert(msgID(1), StashEntry{Dispatch: &Dispatch{MessageID: msgID(1)}, Expiry: 10})
	if _, ok := s.Remove(msgID(1)); !ok {
		t.Fatal("expected Remove to find the entry")
	}
	if _, ok := s.Remove(msgID(1)); ok {
		t.Fatal("expected second Remove to report absent")
	}
}
