// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package state

import (
	"testing"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/pages"
)

func pageHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func TestPageMapWriteBatchTouchesOnlyAffectedRegions(t *testing.T) {
	m := NewPageMap(common.DefaultHasher)

	// Gear indices 0 and 16 both land in region 0 (0 % 16 == 16 % 16);
	// index 1 lands in region 1.
	touched := m.WriteBatch(map[pages.GearIndex]common.Hash{
		0: pageHash(1),
		1: pageHash(2),
	})
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched regions, got %d (%v)", len(touched), touched)
	}

	touched2 := m.WriteBatch(map[pages.GearIndex]common.Hash{16: pageHash(3)})
	if len(touched2) != 1 || touched2[0] != 0 {
		t.Fatalf("expected only region 0 touched, got %v", touched2)
	}

	got, ok := m.Get(16)
	if !ok || got != pageHash(3) {
		t.Fatalf("Get(16) = %v, %v; want %v, true", got, ok, pageHash(3))
	}
	// index 0's entry in the same region must be untouched.
	got0, ok := m.Get(0)
	if !ok || got0 != pageHash(1) {
		t.Fatalf("Get(0) = %v, %v; want %v, true", got0, ok, pageHash(1))
	}
}

func TestPageMapHashChangesWithContentNotIterationOrder(t *testing.T) {
	a := NewPageMap(common.DefaultHasher)
	a.WriteBatch(map[pages.GearIndex]common.Hash{5: pageHash(1), 200: pageHash(2)})

	b := NewPageMap(common.DefaultHasher)
	// Written in the opposite order, and as two separate batches.
	b.WriteBatch(map[pages.GearIndex]common.Hash{200: pageHash(2)})
	b.WriteBatch(map[pages.GearIndex]common.Hash{5: pageHash(1)})

	if a.Hash() != b.Hash() {
		t.Fatalf("page map hash depends on write order: %v != %v", a.Hash(), b.Hash())
	}

	c := NewPageMap(common.DefaultHasher)
	c.WriteBatch(map[pages.GearIndex]common.Hash{5: pageHash(9), 200: pageHash(2)})
	if a.Hash() == c.Hash() {
		t.Fatalf("page maps with different content hashed equal")
	}
}

func TestPageMapRemoveBatch(t *testing.T) {
	m := NewPageMap(common.DefaultHasher)
	m.WriteBatch(map[pages.GearIndex]common.Hash{3: pageHash(7)})
	before := m.Hash()

	touched := m.RemoveBatch([]pages.GearIndex{3})
	if len(touched) != 1 {
		t.Fatalf("expected one touched region on removal, got %v", touched)
	}
	if _, ok := m.Get(3); ok {
		t.Fatalf("page 3 still present after RemoveBatch")
	}
	if m.Hash() == before {
		t.Fatalf("hash unchanged after removing the only page")
	}

	// Removing an index with no entry touches nothing.
	none := m.RemoveBatch([]pages.GearIndex{999})
	if len(none) != 0 {
		t.Fatalf("expected no touched regions removing an absent page, got %v", none)
	}
}
