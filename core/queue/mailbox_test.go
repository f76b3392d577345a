// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import (
	"github.com/probechain/gactor/common"
	"testing"
)

func TestMailboxInsertRejectsDuplicatePair(t *testing.T) {
	m := NewMailbox()
	e := MailboxEntry{Value: common.NewValue128(10), Expiry: 100}
	if err := m.Insert(actor(1), msgID(1), e); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := m.Insert(actor(1), msgID(1), e); err != ErrAlreadyInMailbox {
		t.Fatalf("expected ErrAlreadyInMailbox, got %v", err)
	}
	// Same message id under a different user is fine.
	if err := m.Insert(actor(2), msgID(1), e); err != nil {
		t.Fatalf("Insert under different user: %v", err)
	}
}

func TestMailboxRemovePrunesEmptyUserSubmap(t *testing.T) {
	m := NewMailbox()
	m.Insert(actor(1), msgID(1), MailboxEntry{Value: common.NewValue128(5), Expiry: 50})
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	e, ok := m.Remove(actor(1), msgID(1))
	if !ok || e.Value != common.NewValue128(5) {
		t.Fatalf("Remove = %+v, %v", e, ok)
	}
	if m.Len() != 0 {
		t.Fatalf("expected user sub-map pruned, Len = %d", m.Len())
	}
	if _, ok := m.Remove(actor(1), msgID(1)); ok {
		t.Fatal("second Remove should report absent")
	}
}

func TestMailboxBinaryRoundTrip(t *testing.T) {
	m := NewMailbox()
	m.Insert(actor(1), msgID(1), MailboxEntry{Value: common.NewValue128(10), Expiry: 100})
	m.Insert(actor(1), msgID(2), MailboxEntry{Value: common.NewValue128(20), Expiry: 200})
	m.Insert(actor(2), msgID(3), MailboxEntry{Value: common.NewValue128(30), Expiry: 300})

	enc, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := NewMailbox()
	if err := got.UnmarshalBinary(enc); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("Len = %d, want 2", got.Len())
	}
	e, ok := got.Get(actor(2), msgID(3))
	if !ok || e.Value != common.NewValue128(30) || e.Expiry != 300 {
		t.Fatalf("Get(actor(2), msgID(3)) = %+v, %v", e, ok)
	}
}

func TestMailboxHashIndependentOfInsertionOrder(t *testing.T) {
	a := NewMailbox()
	a.Insert(actor(1), msgID(1), MailboxEntry{Value: common.NewValue128(1), Expiry: 1})
	a.Insert(actor(2), msgID(2), MailboxEntry{Value: common.NewValue128(2), Expiry: 2})

	b := NewMailbox()
	b.Insert(actor(2), msgID(2), MailboxEntry{Value: common.NewValue128(2), Expiry: 2})
	b.Insert(actor(1), msgID(1), MailboxEntry{Value: common.NewValue128(1), Expiry: 1})

	ha, _ := a.Hash(nil)
	hb, _ := b.Hash(nil)
	if ha != hb {
		t.Fatalf("mailbox hash depends on insertion order: %v != %v", ha, hb)
	}
}
