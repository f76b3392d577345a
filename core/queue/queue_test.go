// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import "testing"

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	a := &Dispatch{MessageID: msgID(1)}
	b := &Dispatch{MessageID: msgID(2)}
	q.PushBack(a)
	q.PushBack(b)

	got, ok := q.PopFront()
	if !ok || got != a {
		t.Fatalf("PopFront = %v, %v; want a, true", got, ok)
	}
	got, ok = q.PopFront()
	if !ok || got != b {
		t.Fatalf("PopFront = %v, %v; want b, true", got, ok)
	}
	if _, ok := q.PopFront(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueuePushFrontPriority(t *testing.T) {
	q := NewQueue()
	a := &Dispatch{MessageID: msgID(1)}
	b := &Dispatch{MessageID: msgID(2)}
	q.PushBack(a)
	q.PushFront(b)

	got, ok := q.PopFront()
	if !ok || got != b {
		t.Fatalf("PopFront = %v, %v; want b (pushed to front), true", got, ok)
	}
}

func TestQueueLenAndIsEmpty(t *testing.T) {
	q := NewQueue()
	if !q.IsEmpty() || q.Len() != 0 {
		t.Fatal("new queue must be empty")
	}
	q.PushBack(&Dispatch{MessageID: msgID(1)})
	if q.IsEmpty() || q.Len() != 1 {
		t.Fatalf("Len = %d, IsEmpty = %v; want 1, false", q.Len(), q.IsEmpty())
	}
}
