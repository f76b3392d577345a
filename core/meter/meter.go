// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package meter implements spec.md §4.1: the static gas-metering
// transformation applied to a guest wasm module before it is ever run.
// The pass walks each function body as a sequence of metered blocks
// (maximal straight-line runs delimited by loop headers, by if/else —
// each arm of a conditional is its own block, since only one of them
// ever runs — by br/br_if/br_table/return/unreachable, which always
// end one, and by the closing end of any block or if a branch jumps
// to), and injects a call to an imported gas_charge host function
// at the head of each block, ahead of the instructions it pays for,
// carrying its accumulated cost. memory.grow call sites are additionally
// replaced by a call to a synthesized helper that charges a per-page
// surcharge before performing the actual grow.
//
// The basic-block walk and instruction-cost accounting follow the
// teacher's own SSA-to-bytecode pipeline (probe-lang/lang/codegen.
// Generator: block-by-block emission, a patch list for forward
// references) adapted from a one-pass compiler emitting a brand-new
// instruction stream to a one-pass *rewriter* of an existing one.
package meter

import (
	"fmt"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/meter/wasmbin"
)

// ErrForbiddenInstruction is returned, with the module left completely
// unmodified, when any floating-point instruction, local, or
// function-type operand is found. The global section is not inspected,
// so a floating-point global declaration is not rejected. Floating-point arithmetic is
// non-deterministic across hosts and is never permitted in a guest
// module (spec.md §4.1's failure mode: a forbidden instruction aborts
// instrumentation rather than producing a partially-rewritten module).
var ErrForbiddenInstruction = fmt.Errorf("meter: forbidden (floating-point) instruction")

// Options configures Instrument.
type Options struct {
	Costs CostTable
}

// DefaultOptions returns the options used absent an embedder override.
func DefaultOptions() Options {
	return Options{Costs: DefaultCostTable()}
}

// Instrument rewrites wasm to charge gas via an imported "env.gas_charge"
// host function, returning the rewritten binary. The caller's module must
// provide that import at instantiation time; core/syscall wires it to a
// gasnode.Counter.
func Instrument(wasm []byte, opts Options) ([]byte, error) {
	m, err := wasmbin.Decode(wasm)
	if err != nil {
		return nil, fmt.Errorf("meter: decode: %w", err)
	}
	if err := checkNoFloat(m); err != nil {
		return nil, err
	}

	oldImportFuncs := uint32(m.ImportFuncCount())
	origCodeLen := len(m.Code)

	chargeType := m.AddType(wasmbin.FuncType{Params: []byte{wasmbin.ValI32}})
	chargeFuncIdx := m.AddImportFunc("env", "gas_charge", chargeType)

	renumberModuleFuncRefs(m, oldImportFuncs)

	// addGrowHelper appends its own synthesized body to m.Code, and only
	// when some original body uses memory.grow; it must
	// run fully instrumented (its internal gas_charge calls are already
	// correct, and its memory.grow is the real grow, not a recursive
	// call to itself), so the instrumentation loop below only covers the
	// functions that existed before it was added.
	var growHelperIdx uint32
	usesGrow := false
	for i := 0; i < origCodeLen && !usesGrow; i++ {
		instrs, err := wasmbin.Walk(m.Code[i].Instrs)
		if err != nil {
			return nil, fmt.Errorf("meter: %w", err)
		}
		for _, ins := range instrs {
			usesGrow = usesGrow || ins.Op == wasmbin.OpMemoryGrow
		}
	}
	if usesGrow {
		growHelperIdx = addGrowHelper(m, chargeFuncIdx)
	}

	for i := 0; i < origCodeLen; i++ {
		rewritten, err := instrumentBody(m.Code[i].Instrs, opts.Costs, oldImportFuncs, chargeFuncIdx, growHelperIdx)
		if err != nil {
			return nil, fmt.Errorf("meter: function %d: %w", i, err)
		}
		m.Code[i].Instrs = rewritten
	}

	return m.Encode(), nil
}

// checkNoFloat rejects any module using floating-point types or
// instructions anywhere: function signatures, locals, and code bodies.
func checkNoFloat(m *wasmbin.Module) error {
	isFloatType := func(b byte) bool { return b == wasmbin.ValF32 || b == wasmbin.ValF64 }
	for _, t := range m.Types {
		for _, v := range t.Params {
			if isFloatType(v) {
				return ErrForbiddenInstruction
			}
		}
		for _, v := range t.Results {
			if isFloatType(v) {
				return ErrForbiddenInstruction
			}
		}
	}
	for _, c := range m.Code {
		for _, l := range c.Locals {
			if isFloatType(l.Type) {
				return ErrForbiddenInstruction
			}
		}
		instrs, err := wasmbin.Walk(c.Instrs)
		if err != nil {
			return fmt.Errorf("meter: %w", err)
		}
		for _, ins := range instrs {
			if isForbiddenFloatOpcode(ins.Op) {
				return ErrForbiddenInstruction
			}
		}
	}
	return nil
}

// floatOpcodes is the core spec's complete floating-point instruction
// set (§5.4.1/§5.4.3/§5.4.6): loads/stores, constants, comparisons,
// unary/binary arithmetic, and every conversion or reinterpretation
// touching f32/f64.
var floatOpcodes = map[byte]bool{
	0x2A: true, 0x2B: true, 0x38: true, 0x39: true, // f32/f64.load, f32/f64.store
	0x43: true, 0x44: true, // f32.const, f64.const
	0x5B: true, 0x5C: true, 0x5D: true, 0x5E: true, 0x5F: true, 0x60: true, // f32 compares
	0x61: true, 0x62: true, 0x63: true, 0x64: true, 0x65: true, 0x66: true, // f64 compares
	0x8B: true, 0x8C: true, 0x8D: true, 0x8E: true, 0x8F: true, 0x90: true, 0x91: true, // f32 unary
	0x92: true, 0x93: true, 0x94: true, 0x95: true, 0x96: true, 0x97: true, 0x98: true, // f32 binary
	0x99: true, 0x9A: true, 0x9B: true, 0x9C: true, 0x9D: true, 0x9E: true, 0x9F: true, // f64 unary
	0xA0: true, 0xA1: true, 0xA2: true, 0xA3: true, 0xA4: true, 0xA5: true, 0xA6: true, // f64 binary
	0xA8: true, 0xA9: true, 0xAA: true, 0xAB: true, // i32.trunc_f32/f64
	0xAE: true, 0xAF: true, 0xB0: true, 0xB1: true, // i64.trunc_f32/f64
	0xB2: true, 0xB3: true, 0xB4: true, 0xB5: true, 0xB6: true, // f32.convert_i32/i64, f32.demote_f64
	0xB7: true, 0xB8: true, 0xB9: true, 0xBA: true, 0xBB: true, // f64.convert_i32/i64, f64.promote_f32
	0xBC: true, 0xBD: true, 0xBE: true, 0xBF: true, // i32/i64.reinterpret_f32/f64, f32/f64.reinterpret_i32/i64
}

func isForbiddenFloatOpcode(op byte) bool { return floatOpcodes[op] }

// renumberModuleFuncRefs shifts every reference to a defined function
// (index >= oldImportFuncs) up by one, to account for the single new
// function import appended ahead of them. Imported-function references
// (index < oldImportFuncs) are unaffected.
func renumberModuleFuncRefs(m *wasmbin.Module, oldImportFuncs uint32) {
	shift := func(idx uint32) uint32 {
		if idx >= oldImportFuncs {
			return idx + 1
		}
		return idx
	}
	if m.HasStart {
		m.StartIdx = shift(m.StartIdx)
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == wasmbin.ImportKindFunc {
			m.Exports[i].Idx = shift(m.Exports[i].Idx)
		}
	}
	for i := range m.Elements {
		for j, idx := range m.Elements[i].FuncIdxs {
			m.Elements[i].FuncIdxs[j] = shift(idx)
		}
	}
}

// addGrowHelper synthesizes a (param i32) (result i32) function with the
// same signature as memory.grow: it charges MemoryGrowSurchargePerPage
// gas for every page of the requested delta (overflow-split across
// u32::MAX-sized chunks, same as an ordinary metered-block charge), then
// performs the real memory.grow and returns its result.
func addGrowHelper(m *wasmbin.Module, chargeFuncIdx uint32) uint32 {
	growType := m.AddType(wasmbin.FuncType{Params: []byte{wasmbin.ValI32}, Results: []byte{wasmbin.ValI32}})

	var b []byte
	// cost (local 1, i64) = i64.extend_i32_u(local 0) * surcharge_per_page
	b = append(b, 0x20, 0x00) // local.get 0
	b = append(b, 0xAD)       // i64.extend_i32_u
	b = appendI64Const(b, int64(MemoryGrowSurchargePerPage))
	b = append(b, 0x7E)       // i64.mul
	b = append(b, 0x21, 0x01) // local.set 1

	// loop { if cost > u32::MAX { charge(u32::MAX); cost -= u32::MAX; continue } }
	b = append(b, 0x03, 0x40) // loop (empty blocktype)
	b = append(b, 0x20, 0x01) // local.get 1
	b = appendI64Const(b, int64(uint32(0xFFFFFFFF)))
	b = append(b, 0x56)       // i64.gt_u
	b = append(b, 0x04, 0x40) // if (empty blocktype)
	b = append(b, 0x41, 0x7F) // i32.const -1 (bit pattern 0xFFFFFFFF)
	b = append(b, 0x10)
	b = wasmbin.PutUvarint(b, uint64(chargeFuncIdx))
	b = append(b, 0x20, 0x01) // local.get 1
	b = appendI64Const(b, int64(uint32(0xFFFFFFFF)))
	b = append(b, 0x7D)       // i64.sub
	b = append(b, 0x21, 0x01) // local.set 1
	b = append(b, 0x0C, 0x01) // br 1 (the enclosing loop)
	b = append(b, 0x0B)       // end if
	b = append(b, 0x0B)       // end loop

	// charge(cost as i32)
	b = append(b, 0x20, 0x01) // local.get 1
	b = append(b, 0xA7)       // i32.wrap_i64
	b = append(b, 0x10)
	b = wasmbin.PutUvarint(b, uint64(chargeFuncIdx))

	// memory.grow(local 0); implicit return
	b = append(b, 0x20, 0x00)       // local.get 0
	b = append(b, 0x40, 0x00)       // memory.grow 0
	b = append(b, 0x0B)             // end function

	body := wasmbin.CodeBody{
		Locals: []wasmbin.Local{{Count: 1, Type: wasmbin.ValI64}},
		Instrs: b,
	}
	return m.AddFunction(growType, body)
}

func appendI64Const(b []byte, v int64) []byte {
	b = append(b, 0x42)
	return wasmbin.PutVarint(b, v)
}

// ChargeChunks splits a gas amount into the sequence of u32 values a
// metered block's injected charge calls carry, each charge call taking a
// single u32 argument: amount/u32::MAX full-sized chunks followed by the
// remainder as one more chunk if it is non-zero (spec.md §4.1 — e.g. 3*u32::MAX+500 yields three
// u32::MAX chunks and one chunk of 500). Returns nil for a zero amount.
func ChargeChunks(amount common.Gas) []uint32 {
	const maxChunk = common.Gas(0xFFFFFFFF)
	var chunks []uint32
	for amount > 0 {
		chunk := amount
		if chunk > maxChunk {
			chunk = maxChunk
		}
		chunks = append(chunks, uint32(chunk))
		amount -= chunk
	}
	return chunks
}

// ctrlFrame tracks one open block/loop/if while walking a function body, so
// OpEnd can tell the cases where closing the construct must itself start a
// fresh metered block — an if-without-else, or a block/if some branch
// jumps to the end of — apart from everything else (see the OpEnd case
// below).
type ctrlFrame struct {
	kind       byte // wasmbin.OpBlock, wasmbin.OpLoop, or wasmbin.OpIf
	hasElse    bool
	branchedTo bool // a br/br_if/br_table inside targets this construct
}

// instrumentBody rewrites one function body's instruction stream,
// injecting gas_charge calls at metered-block boundaries and remapping
// call/ref.func targets and memory.grow sites.
//
// Each metered block's instructions are buffered in `block` as they're
// walked, rather than written straight to `out`; `flush` is what actually
// emits a block, and it always writes the charge call(s) first and the
// buffered instructions after, so the payment for a block lands strictly
// before the code it pays for. A plain `block` opener is transparent (it
// never flushes), and so is its closing `end` unless a branch jumps to it;
// `loop`, `if`, `else`, and the branch/return/unreachable family
// all close the block running up to them and start a new one.
func instrumentBody(instrs []byte, costs CostTable, oldImportFuncs, chargeFuncIdx, growHelperIdx uint32) ([]byte, error) {
	decoded, err := wasmbin.Walk(instrs)
	if err != nil {
		return nil, err
	}

	var out []byte
	var block []byte
	var pending common.Gas
	var stack []ctrlFrame

	flush := func() {
		for _, chunk := range ChargeChunks(pending) {
			out = append(out, 0x41)                           // i32.const
			out = wasmbin.PutVarint(out, int64(int32(chunk))) // sign-extended i32 bit pattern
			out = append(out, 0x10)                           // call
			out = wasmbin.PutUvarint(out, uint64(chargeFuncIdx))
		}
		out = append(out, block...)
		pending = 0
		block = nil
	}
	shiftFunc := func(idx uint32) uint32 {
		if idx >= oldImportFuncs {
			return idx + 1
		}
		return idx
	}

	for _, ins := range decoded {
		switch ins.Op {
		case wasmbin.OpLoop:
			flush()
			out = append(out, instrs[ins.Off:ins.End]...)
			stack = append(stack, ctrlFrame{kind: ins.Op})
		case wasmbin.OpBlock:
			block = append(block, instrs[ins.Off:ins.End]...)
			stack = append(stack, ctrlFrame{kind: ins.Op})
		case wasmbin.OpIf:
			// The condition and the if opcode itself belong to the block
			// that just closed; the then-arm starts a brand new one
			// right after it, since only one of the two arms ever runs.
			block = append(block, instrs[ins.Off:ins.End]...)
			flush()
			stack = append(stack, ctrlFrame{kind: ins.Op})
		case wasmbin.OpElse:
			// Charge the then-arm on its own before starting the
			// else-arm's block: a concrete execution only ever takes one
			// of the two arms, so each must be metered independently
			// instead of folding both costs into a single charge.
			flush()
			out = append(out, instrs[ins.Off:ins.End]...)
			stack[len(stack)-1].hasElse = true
		case wasmbin.OpEnd:
			if len(stack) == 0 {
				// No matching opener in instrs: the function body's own
				// closing end, the final straight-line run's flush point.
				flush()
				out = append(out, instrs[ins.Off:ins.End]...)
				continue
			}
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (frame.kind == wasmbin.OpIf && !frame.hasElse) || (frame.branchedTo && frame.kind != wasmbin.OpLoop) {
				// An if without an else is skipped entirely when its
				// condition is false, jumping straight past this end —
				// including any charge call merged into the then-arm's
				// block. A forward branch to a block's or if's end jumps
				// past it the same way. Flush that block here, before the
				// jump target, so the code that follows gets its own
				// charge instead of inheriting one the jump would skip over.
				flush()
				out = append(out, instrs[ins.Off:ins.End]...)
				continue
			}
			// A loop's end (a branch to a loop goes back to its header),
			// or a block's or if/else's end that no branch targets, is
			// reached only by falling through and merges into whichever
			// block is still open, same as a block opener does.
			block = append(block, instrs[ins.Off:ins.End]...)
		case wasmbin.OpBr, wasmbin.OpBrIf, wasmbin.OpBrTable, wasmbin.OpReturn, wasmbin.OpUnreachable:
			// Mark the construct(s) this branch jumps to; br_table's labels
			// are not decoded, so it marks every open construct.
			if (ins.Op == wasmbin.OpBr || ins.Op == wasmbin.OpBrIf) && int(ins.LabelIdx) < len(stack) {
				stack[len(stack)-1-int(ins.LabelIdx)].branchedTo = true
			} else if ins.Op == wasmbin.OpBrTable {
				for i := range stack {
					stack[i].branchedTo = true
				}
			}
			pending += costs.Cost(ins.Op)
			block = append(block, instrs[ins.Off:ins.End]...)
			flush()
		case wasmbin.OpCall:
			pending += costs.Cost(ins.Op)
			block = append(block, 0x10)
			block = wasmbin.PutUvarint(block, uint64(shiftFunc(ins.FuncIdx)))
		case wasmbin.OpRefFunc:
			pending += costs.Cost(ins.Op)
			block = append(block, wasmbin.OpRefFunc)
			block = wasmbin.PutUvarint(block, uint64(shiftFunc(ins.FuncIdx)))
		case wasmbin.OpMemoryGrow:
			pending += costs.Cost(ins.Op)
			block = append(block, 0x10)
			block = wasmbin.PutUvarint(block, uint64(growHelperIdx))
		default:
			pending += costs.Cost(ins.Op)
			block = append(block, instrs[ins.Off:ins.End]...)
		}
	}
	return out, nil
}
