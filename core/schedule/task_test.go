// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package schedule

import (
	"testing"

	"github.com/probechain/gactor/common"
)

func actor(b byte) common.ActorID {
	var a common.ActorID
	a[31] = b
	return a
}
func msgID(b byte) common.MessageID {
	var m common.MessageID
	m[31] = b
	return m
}
func reservationID(b byte) common.ReservationID {
	var r common.ReservationID
	r[31] = b
	return r
}

func TestTaskBinaryRoundTripAllKinds(t *testing.T) {
	tasks := []Task{
		WakeMessageTask(actor(1), msgID(2)),
		RemoveFromMailboxTask(actor(3), actor(10), msgID(4)),
		RemoveFromWaitlistTask(actor(5), msgID(6)),
		RemoveFromStashTask(actor(7), msgID(7)),
		RemoveReservationTask(actor(8), reservationID(9)),
	}

	for _, want := range tasks {
		enc, err := want.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary(%v): %v", want.Kind, err)
		}
		got, off, err := UnmarshalTask(enc, 0)
		if err != nil {
			t.Fatalf("UnmarshalTask(%v): %v", want.Kind, err)
		}
		if off != len(enc) {
			t.Fatalf("UnmarshalTask(%v) consumed %d of %d bytes", want.Kind, off, len(enc))
		}
		if got != want {
			t.Fatalf("round trip mismatch for %v:\n got  %+v\n want %+v", want.Kind, got, want)
		}
	}
}

func TestMarshalBucketRoundTrip(t *testing.T) {
	want := []Task{
		WakeMessageTask(actor(1), msgID(2)),
		RemoveFromStashTask(actor(3), msgID(3)),
	}
	enc, err := marshalBucket(want)
	if err != nil {
		t.Fatalf("marshalBucket: %v", err)
	}
	got, err := unmarshalBucket(enc)
	if err != nil {
		t.Fatalf("unmarshalBucket: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMarshalBucketEmpty(t *testing.T) {
	enc, err := marshalBucket(nil)
	if err != nil {
		t.Fatalf("marshalBucket(nil): %v", err)
	}
	got, err := unmarshalBucket(enc)
	if err != nil {
		t.Fatalf("unmarshalBucket: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}
