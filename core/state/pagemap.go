// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package state

import (
	"encoding/binary"
	"sort"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/pages"
)

// NumRegions is the fixed horizontal partition count of the full gear-page
// map (spec.md §3): a storage invariant, not a tunable.
const NumRegions = 16

// RegionIndex identifies one of the NumRegions partitions.
type RegionIndex uint8

// regionOf assigns a gear-page index to its owning region by low-bit
// striping, so that nearby pages (the common case for a growing heap)
// spread across regions instead of clustering in one.
func regionOf(idx pages.GearIndex) RegionIndex {
	return RegionIndex(uint32(idx) % NumRegions)
}

// region is one partition's ordered map from gear-page index to the
// content hash of that page's data, plus its own cached hash.
type region struct {
	byIndex map[pages.GearIndex]common.Hash
	hash    common.Hash
	valid   bool
}

func newRegion() *region {
	return &region{byIndex: make(map[pages.GearIndex]common.Hash)}
}

// rehash recomputes the region's hash over its entries in ascending
// gear-index order, so the hash is independent of map iteration order.
func (r *region) rehash(hasher common.Hasher) {
	indices := make([]pages.GearIndex, 0, len(r.byIndex))
	for idx := range r.byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var buf []byte
	for _, idx := range indices {
		var idxBytes [4]byte
		binary.LittleEndian.PutUint32(idxBytes[:], uint32(idx))
		h := r.byIndex[idx]
		buf = append(buf, idxBytes[:]...)
		buf = append(buf, h[:]...)
	}
	r.hash = hasher.Hash(buf)
	r.valid = true
}

// PageMap is the program's full memory page map, horizontally partitioned
// into NumRegions ordered regions (spec.md §3). Writing a batch of pages
// touches and re-hashes only the affected regions.
type PageMap struct {
	regions [NumRegions]*region
	hasher  common.Hasher
}

// NewPageMap creates an empty page map using the given hashing oracle.
func NewPageMap(hasher common.Hasher) *PageMap {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	m := &PageMap{hasher: hasher}
	for i := range m.regions {
		m.regions[i] = newRegion()
	}
	return m
}

// Get returns the content hash stored for a gear page, if any.
func (m *PageMap) Get(idx pages.GearIndex) (common.Hash, bool) {
	r := m.regions[regionOf(idx)]
	h, ok := r.byIndex[idx]
	return h, ok
}

// WriteBatch writes a set of gear-page content hashes, re-hashing every
// region touched by the batch, and returns which regions changed.
func (m *PageMap) WriteBatch(batch map[pages.GearIndex]common.Hash) []RegionIndex {
	touched := make(map[RegionIndex]bool)
	for idx, h := range batch {
		ri := regionOf(idx)
		m.regions[ri].byIndex[idx] = h
		touched[ri] = true
	}
	out := make([]RegionIndex, 0, len(touched))
	for ri := range touched {
		m.regions[ri].rehash(m.hasher)
		out = append(out, ri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RemoveBatch deletes a set of gear pages (used when free() releases
// pages back to the allocations context), re-hashing touched regions.
func (m *PageMap) RemoveBatch(indices []pages.GearIndex) []RegionIndex {
	touched := make(map[RegionIndex]bool)
	for _, idx := range indices {
		ri := regionOf(idx)
		if _, ok := m.regions[ri].byIndex[idx]; ok {
			delete(m.regions[ri].byIndex, idx)
			touched[ri] = true
		}
	}
	out := make([]RegionIndex, 0, len(touched))
	for ri := range touched {
		m.regions[ri].rehash(m.hasher)
		out = append(out, ri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegionHash returns a region's current hash (valid after rehash; the
// zero hash before any page is ever written to it).
func (m *PageMap) RegionHash(ri RegionIndex) common.Hash {
	return m.regions[ri].hash
}

// RegionEntries returns a copy of a region's gear-index-to-content-hash
// map, for a caller that persists regions individually (core/runner,
// one KV entry per (program, region)).
func (m *PageMap) RegionEntries(ri RegionIndex) map[pages.GearIndex]common.Hash {
	src := m.regions[ri].byIndex
	out := make(map[pages.GearIndex]common.Hash, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// LoadRegion replaces a region's contents with entries and recomputes its
// hash, the inverse of RegionEntries for a caller rehydrating a page map
// from storage.
func (m *PageMap) LoadRegion(ri RegionIndex, entries map[pages.GearIndex]common.Hash) {
	if entries == nil {
		entries = make(map[pages.GearIndex]common.Hash)
	}
	m.regions[ri].byIndex = entries
	m.regions[ri].rehash(m.hasher)
}

// Hash returns the aggregate hash of the whole page map: the hash of the
// concatenation of all NumRegions region hashes in index order. This is
// the value stored as ProgramState's memory-page-map content hash.
func (m *PageMap) Hash() common.Hash {
	var buf []byte
	for i := range m.regions {
		h := m.regions[i].hash
		buf = append(buf, h[:]...)
	}
	return m.hasher.Hash(buf)
}
