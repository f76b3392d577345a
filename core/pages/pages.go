// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package pages implements the fixed-size page arithmetic of spec.md §3/§4.2:
// wasm pages, gear pages, and the allocations context that tracks which
// heap pages are currently live via an ordered interval set.
//
// The allocator follows the bookkeeping discipline of the teacher's own
// flat-heap allocator (probe-lang/lang/vm.Memory: base→allocation map,
// monotone scan, bounds-checked access) generalized from byte ranges to
// page-index ranges per spec.md §4.2.
package pages

import (
	"fmt"
	"sort"
)

const (
	// WasmPageSize is the size in bytes of one wasm page (spec.md §3).
	WasmPageSize = 64 * 1024

	// GearPageSize is the size in bytes of one gear page, a fixed sub-page
	// storage unit (spec.md §3).
	GearPageSize = 16 * 1024

	// GearPagesPerWasmPage is the compile-time ratio between the two units.
	GearPagesPerWasmPage = WasmPageSize / GearPageSize
)

// Index is a wasm-page index (a u32 offset into linear memory measured in
// pages, not bytes).
type Index uint32

// GearIndex is a gear-page index.
type GearIndex uint32

// ToGearIndices expands one wasm page index into its GearPagesPerWasmPage
// constituent gear-page indices.
func (i Index) ToGearIndices() []GearIndex {
	out := make([]GearIndex, GearPagesPerWasmPage)
	base := GearIndex(i) * GearPagesPerWasmPage
	for k := range out {
		out[k] = base + GearIndex(k)
	}
	return out
}

// interval is a half-open page range [Start, End).
type interval struct {
	Start, End Index
}

func (iv interval) len() uint32 { return uint32(iv.End - iv.Start) }

// GrowCharger is invoked by Alloc when the chosen run of pages extends past
// the context's current memory size; it must charge the gas surcharge for
// growing by additionalPages before the context records the growth. If it
// returns an error, Alloc fails and performs no state mutation (spec.md
// §4.2).
type GrowCharger func(additionalPages uint32) error

// ErrOutOfBounds is returned by Alloc when the heap has no room for the
// requested run of pages.
var ErrOutOfBounds = fmt.Errorf("pages: out of bounds")

// ErrInvalidFree is returned by Free when the page is not a live allocation
// inside the heap interval.
type ErrInvalidFree Index

func (e ErrInvalidFree) Error() string { return fmt.Sprintf("pages: invalid free of page %d", Index(e)) }

// ErrInvalidFreeRange is returned by FreeRange when the requested range is
// not entirely inside the heap interval.
var ErrInvalidFreeRange = fmt.Errorf("pages: invalid free range")

// Context is the per-execution allocations context of spec.md §4.2: an
// interval set over currently-allocated wasm pages, the static-pages
// cutoff, the heap bound, and a dirty flag.
//
// Not safe for concurrent use; spec.md §4.2 requires none (single execution
// at a time).
type Context struct {
	allocated   []interval // sorted, non-overlapping, ascending
	staticPages Index
	maxPages    Index
	memorySize  Index
	dirty       bool
}

// NewContext creates an allocations context with no pages allocated.
// staticPages must be <= memorySize <= maxPages, per spec.md §3's invariant.
func NewContext(staticPages, memorySize, maxPages Index) *Context {
	return &Context{
		staticPages: staticPages,
		memorySize:  memorySize,
		maxPages:    maxPages,
	}
}

// StaticPages returns the static-pages cutoff.
func (c *Context) StaticPages() Index { return c.staticPages }

// MemorySize returns the current linear-memory size in pages.
func (c *Context) MemorySize() Index { return c.memorySize }

// MaxPages returns the upper heap bound (exclusive).
func (c *Context) MaxPages() Index { return c.maxPages }

// Dirty reports whether any alloc/free has mutated the set since creation
// (or since ClearDirty).
func (c *Context) Dirty() bool { return c.dirty }

// ClearDirty resets the dirty flag, called once the allocation set has been
// persisted for the block (core/runner reconciliation step).
func (c *Context) ClearDirty() { c.dirty = false }

// AllocatedPages returns the currently allocated pages, ascending, for
// hashing/persistence (core/state's allocation-set blob).
func (c *Context) AllocatedPages() []Index {
	var out []Index
	for _, iv := range c.allocated {
		for p := iv.Start; p < iv.End; p++ {
			out = append(out, p)
		}
	}
	return out
}

// RestoreAllocated replaces the allocated set with the given pages
// (any order, duplicates tolerated), coalescing adjacent pages into
// intervals. For a caller rehydrating a Context from its persisted
// allocation-set blob (the AllocatedPages counterpart); never called
// mid-execution, so it does not mark the context dirty.
func (c *Context) RestoreAllocated(pagesList []Index) {
	sorted := append([]Index(nil), pagesList...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var merged []interval
	for _, p := range sorted {
		if n := len(merged); n > 0 && merged[n-1].End == p {
			merged[n-1].End = p + 1
			continue
		}
		merged = append(merged, interval{Start: p, End: p + 1})
	}
	c.allocated = merged
}

// Alloc reserves n contiguous pages and returns the first page index.
//
// n == 0 returns staticPages without reserving anything (spec.md §4.2).
// Otherwise the heap's voids are scanned in ascending order for the first
// run able to hold n pages; if the chosen run extends past the current
// memory size, grow is invoked with the additional-page count before the
// context records the growth.
func (c *Context) Alloc(n uint32, grow GrowCharger) (Index, error) {
	if n == 0 {
		return c.staticPages, nil
	}
	if c.staticPages >= c.maxPages {
		return 0, ErrOutOfBounds
	}

	cursor := c.staticPages
	for _, iv := range c.allocated {
		if iv.Start > cursor {
			voidLen := uint32(iv.Start - cursor)
			if voidLen >= n {
				return c.commitAlloc(cursor, n, grow)
			}
		}
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	// Trailing void up to maxPages.
	if uint32(c.maxPages-cursor) >= n {
		return c.commitAlloc(cursor, n, grow)
	}
	return 0, ErrOutOfBounds
}

func (c *Context) commitAlloc(start Index, n uint32, grow GrowCharger) (Index, error) {
	end := start + Index(n)
	if end > c.memorySize {
		additional := uint32(end - c.memorySize)
		if grow != nil {
			if err := grow(additional); err != nil {
				return 0, err
			}
		}
		c.memorySize = end
	}
	c.insert(interval{Start: start, End: end})
	c.dirty = true
	return start, nil
}

// insert adds iv to the sorted, non-overlapping allocated set.
func (c *Context) insert(iv interval) {
	i := sort.Search(len(c.allocated), func(i int) bool { return c.allocated[i].Start >= iv.Start })
	c.allocated = append(c.allocated, interval{})
	copy(c.allocated[i+1:], c.allocated[i:])
	c.allocated[i] = iv
}

// Free releases a single page. page must be inside the heap interval and
// currently allocated, else ErrInvalidFree(page).
func (c *Context) Free(page Index) error {
	if page < c.staticPages || page >= c.maxPages {
		return ErrInvalidFree(page)
	}
	for i, iv := range c.allocated {
		if page < iv.Start || page >= iv.End {
			continue
		}
		c.splitOut(i, interval{Start: page, End: page + 1})
		c.dirty = true
		return nil
	}
	return ErrInvalidFree(page)
}

// FreeRange releases every allocated page in [lo, hi], inclusive, silently
// skipping gaps. lo and hi must both lie inside the heap interval, else
// ErrInvalidFreeRange.
func (c *Context) FreeRange(lo, hi Index) error {
	if lo > hi || lo < c.staticPages || hi >= c.maxPages {
		return ErrInvalidFreeRange
	}
	target := interval{Start: lo, End: hi + 1}
	changed := false
	for i := 0; i < len(c.allocated); {
		iv := c.allocated[i]
		if iv.End <= target.Start || iv.Start >= target.End {
			i++
			continue
		}
		c.splitOut(i, target)
		changed = true
		// splitOut may have shrunk/removed/split in place; restart the scan
		// from the same index since indices shifted.
	}
	if changed {
		c.dirty = true
	}
	return nil
}

// splitOut removes the portion of allocated[i] that overlaps target,
// leaving zero, one, or two remaining sub-intervals in its place.
func (c *Context) splitOut(i int, target interval) {
	iv := c.allocated[i]
	var remainder []interval
	if iv.Start < target.Start {
		remainder = append(remainder, interval{Start: iv.Start, End: target.Start})
	}
	if iv.End > target.End {
		remainder = append(remainder, interval{Start: target.End, End: iv.End})
	}
	switch len(remainder) {
	case 0:
		c.allocated = append(c.allocated[:i], c.allocated[i+1:]...)
	case 1:
		c.allocated[i] = remainder[0]
	case 2:
		c.allocated = append(c.allocated, interval{})
		copy(c.allocated[i+2:], c.allocated[i+1:])
		c.allocated[i] = remainder[0]
		c.allocated[i+1] = remainder[1]
	}
}
