// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gasnode implements spec.md §4.3: the monotonic per-execution gas
// counter and the cross-message gas-node accounting forest.
//
// The counter's useGas-then-compare shape is lifted directly from the
// teacher's register VM (probe-lang/lang/vm.VM.useGas), scaled from a
// single counter to a Counter type usable outside the VM loop, and from
// the forest built on top of it for cross-message accounting.
package gasnode

import "github.com/probechain/gactor/common"

// ChargeResult is the outcome of Counter.Charge.
type ChargeResult uint8

const (
	Enough ChargeResult = iota
	NotEnough
)

// Counter is the monotonic gas reserve exposed to a single execution
// (spec.md §4.3). Charging never panics; it reports NotEnough once the
// reserve would underflow, leaving the reserve at exactly zero left.
type Counter struct {
	limit  common.Gas
	burned common.Gas
}

// NewCounter creates a counter with the given starting limit.
func NewCounter(limit common.Gas) *Counter {
	return &Counter{limit: limit}
}

// Charge attempts to deduct amount from the reserve. On NotEnough, the
// reserve is left fully exhausted: the whole limit counts as burned
// (Left() == 0, Burned() == Limit()) — callers
// must stop metering further blocks once NotEnough is returned, matching
// the trap-on-underflow behavior of spec.md §4.3.
func (c *Counter) Charge(amount common.Gas) ChargeResult {
	if amount > c.limit-c.burned {
		c.burned = c.limit
		return NotEnough
	}
	c.burned += amount
	return Enough
}

// Left returns the remaining gas.
func (c *Counter) Left() common.Gas { return c.limit - c.burned }

// Burned returns the gas consumed so far.
func (c *Counter) Burned() common.Gas { return c.burned }

// Limit returns the counter's starting limit.
func (c *Counter) Limit() common.Gas { return c.limit }

// Refund credits amount back to the reserve, never exceeding the original
// limit (spec.md §4.3's refund semantics — e.g. the allocations context's
// unused grow surcharge, or a syscall-level partial refund).
func (c *Counter) Refund(amount common.Gas) {
	if amount > c.burned {
		amount = c.burned
	}
	c.burned -= amount
}
