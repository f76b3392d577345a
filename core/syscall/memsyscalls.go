// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syscall

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// registerMemorySyscalls wires the Memory group of spec.md §4.4.
// memory.grow's own gas charge happens at instrumentation time (§4.1),
// not here; these three only manage the allocations-context page set.
func (h *Host) registerMemorySyscalls() {
	h.export("alloc", func(ctx context.Context, mod api.Module, pages uint32) uint32 {
		ext := externalitiesFrom(ctx)
		page, err := ext.AllocPages(pages)
		if err != nil {
			// spec.md §4.2/§4.4: alloc returns the sentinel u32::MAX on
			// failure, the same value this package reuses as AbsentPtr.
			return AbsentPtr
		}
		return page
	})

	h.export("free", func(ctx context.Context, mod api.Module, page uint32) uint32 {
		ext := externalitiesFrom(ctx)
		return writeErrorLen(ext, ext.FreePage(page))
	})

	h.export("free_range", func(ctx context.Context, mod api.Module, lo, hi uint32) uint32 {
		ext := externalitiesFrom(ctx)
		return writeErrorLen(ext, ext.FreePageRange(lo, hi))
	})
}
