// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package meter

import (
	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/meter/wasmbin"
)

// Per-instruction-category costs, carried over from the teacher's
// register-VM cost table (probe-lang/lang/vm/vm.go's gasTrivial/
// gasArithmetic/gasMul/gasDivMod/gasBitwise/gasMemOp/gasJump/gasCall
// constants) and assigned to the equivalent wasm opcode groups.
const (
	costTrivial    common.Gas = 1  // control-flow bookkeeping, locals, consts
	costArithmetic common.Gas = 3  // add/sub/compare
	costMul        common.Gas = 5  // multiply
	costDivMod     common.Gas = 10 // divide/remainder
	costBitwise    common.Gas = 2  // and/or/xor/not/shift
	costMemOp      common.Gas = 5  // load/store
	costJump       common.Gas = 3  // br/br_if/br_table
	costCall       common.Gas = 20 // call/call_indirect overhead

	// MemoryGrowSurchargePerPage is charged, in addition to CostTable's
	// per-instruction cost for the memory.grow instruction itself, once
	// per page the guest requests to grow by (spec.md §4.1/§4.2).
	MemoryGrowSurchargePerPage common.Gas = 500
)

// CostTable maps each opcode to its metering cost. Cost falls back to the
// single Default value when an opcode has no explicit entry.
type CostTable struct {
	ByOpcode map[byte]common.Gas
	Default  common.Gas
}

// DefaultCostTable returns the cost table used when no embedder override
// is configured, grounded on the teacher's per-opcode-class gas table.
func DefaultCostTable() CostTable {
	t := CostTable{ByOpcode: make(map[byte]common.Gas), Default: costTrivial}

	for op := byte(0x45); op <= 0xC4; op++ {
		t.ByOpcode[op] = costArithmetic
	}
	mulDivOverrides := map[byte]common.Gas{
		0x6C: costMul, 0x7E: costMul, // i32.mul, i64.mul
		0x6D: costDivMod, 0x6E: costDivMod, 0x6F: costDivMod, // i32.div_s/u, rem_s
		0x7F: costDivMod, 0x80: costDivMod, 0x81: costDivMod, // i64.div_s/u, rem_s
	}
	for op, c := range mulDivOverrides {
		t.ByOpcode[op] = c
	}
	bitwiseOps := []byte{0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, // i32 and/or/xor/shl/shr_s/shr_u/rotl/rotr
		0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8A} // i64 and/or/xor/shl/shr_s/shr_u/rotl/rotr
	for _, op := range bitwiseOps {
		t.ByOpcode[op] = costBitwise
	}

	for op := wasmbin.OpMemoryLoLoad; op <= wasmbin.OpMemoryHiLoad; op++ {
		t.ByOpcode[op] = costMemOp
	}
	t.ByOpcode[wasmbin.OpBr] = costJump
	t.ByOpcode[wasmbin.OpBrIf] = costJump
	t.ByOpcode[wasmbin.OpBrTable] = costJump
	t.ByOpcode[wasmbin.OpCall] = costCall
	t.ByOpcode[wasmbin.OpCallIndirect] = costCall

	return t
}

// Cost returns the configured cost for op, falling back to the table's
// default for anything not explicitly listed (control markers, locals,
// globals, consts — the teacher's gasTrivial tier).
func (t CostTable) Cost(op byte) common.Gas {
	if c, ok := t.ByOpcode[op]; ok {
		return c
	}
	return t.Default
}
