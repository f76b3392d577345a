// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import (
	"bytes"
	"testing"

	"github.com/probechain/gactor/common"
)

// memCAS is a minimal in-memory gasdb.CASStore stand-in for dispatch
// payload tests.
type memCAS struct {
	m map[common.Hash][]byte
}

func newMemCAS() *memCAS { return &memCAS{m: map[common.Hash][]byte{}} }

func (c *memCAS) Write(data []byte) (common.Hash, error) {
	h := common.DefaultHasher.Hash(data)
	c.m[h] = append([]byte(nil), data...)
	return h, nil
}
func (c *memCAS) Read(h common.Hash) ([]byte, bool, error) {
	v, ok := c.m[h]
	return v, ok, nil
}
func (c *memCAS) Contains(h common.Hash) (bool, error) {
	_, ok := c.m[h]
	return ok, nil
}

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

func TestPayloadLookupDirectBelowThreshold(t *testing.T) {
	cas := newMemCAS()
	data := []byte("short payload")
	p, err := NewPayloadLookup(data, cas)
	if err != nil {
		t.Fatalf("NewPayloadLookup: %v", err)
	}
	if p.Stored {
		t.Fatal("expected direct payload for data under threshold")
	}
	got, err := p.Resolve(cas)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Resolve = %q, %v; want %q, nil", got, err, data)
	}
}

func TestPayloadLookupStoredAtThreshold(t *testing.T) {
	cas := newMemCAS()
	data := bytes.Repeat([]byte{0xAB}, DirectPayloadThreshold)
	p, err := NewPayloadLookup(data, cas)
	if err != nil {
		t.Fatalf("NewPayloadLookup: %v", err)
	}
	if !p.Stored {
		t.Fatal("expected stored payload for data at threshold")
	}
	got, err := p.Resolve(cas)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Resolve = %v bytes, %v; want %d bytes, nil", len(got), err, len(data))
	}
}

func TestDispatchBinaryRoundTripMinimal(t *testing.T) {
	cas := newMemCAS()
	payload, err := NewPayloadLookup([]byte("PING"), cas)
	if err != nil {
		t.Fatalf("NewPayloadLookup: %v", err)
	}
	d := &Dispatch{
		MessageID:   msgID(1),
		Kind:        KindHandle,
		Source:      actor(2),
		Destination: actor(3),
		Value:       common.NewValue128(42),
		Payload:     payload,
	}

	enc, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Dispatch
	if err := got.UnmarshalBinary(enc); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.MessageID != d.MessageID || got.Kind != d.Kind || got.Source != d.Source ||
		got.Destination != d.Destination || got.Value != d.Value {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, *d)
	}
	if !bytes.Equal(got.Payload.Direct, d.Payload.Direct) {
		t.Fatalf("payload mismatch: %q != %q", got.Payload.Direct, d.Payload.Direct)
	}
	if got.ReplyDetails != nil || got.ContextStore != nil {
		t.Fatalf("expected nil optional fields, got %+v", got)
	}
}

func TestDispatchBinaryRoundTripWithReplyAndContext(t *testing.T) {
	cas := newMemCAS()
	payload, err := NewPayloadLookup([]byte("reply body"), cas)
	if err != nil {
		t.Fatalf("NewPayloadLookup: %v", err)
	}
	d := &Dispatch{
		MessageID:   msgID(5),
		Kind:        KindReply,
		Source:      actor(6),
		Destination: actor(7),
		Value:       common.NewValue128(0),
		Payload:     payload,
		ReplyDetails: &ReplyDetails{
			RepliedTo: msgID(9),
			Code:      ReplyErrorOutOfGas,
		},
		ContextStore: []byte{1, 2, 3, 4},
	}

	enc, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Dispatch
	if err := got.UnmarshalBinary(enc); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.ReplyDetails == nil || *got.ReplyDetails != *d.ReplyDetails {
		t.Fatalf("reply details mismatch: %+v != %+v", got.ReplyDetails, d.ReplyDetails)
	}
	if !bytes.Equal(got.ContextStore, d.ContextStore) {
		t.Fatalf("context store mismatch: %v != %v", got.ContextStore, d.ContextStore)
	}
}

func TestDispatchUnmarshalRejectsTruncated(t *testing.T) {
	cas := newMemCAS()
	payload, _ := NewPayloadLookup([]byte("x"), cas)
	d := &Dispatch{MessageID: msgID(1), Payload: payload}
	enc, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Dispatch
	if err := got.UnmarshalBinary(enc[:len(enc)-1]); err == nil {
		t.Fatal("expected error unmarshalling truncated dispatch")
	}
}

func TestDispatchHashDeterministic(t *testing.T) {
	cas := newMemCAS()
	payload, _ := NewPayloadLookup([]byte("x"), cas)
	d := &Dispatch{MessageID: msgID(1), Payload: payload}

	h1, err := d.Hash(common.DefaultHasher)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := d.Hash(common.DefaultHasher)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %v != %v", h1, h2)
	}
}
