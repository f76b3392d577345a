// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package meter

import (
	"bytes"
	"testing"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/meter/wasmbin"
)

// buildModule assembles a minimal module with a single defined function
// of the given body, round-tripping it through Encode/Decode so tests
// exercise the same bytes Instrument would see from a real compiler.
func buildModule(t *testing.T, instrs []byte, locals []wasmbin.Local) *wasmbin.Module {
	t.Helper()
	m := &wasmbin.Module{}
	typeIdx := m.AddType(wasmbin.FuncType{})
	m.AddFunction(typeIdx, wasmbin.CodeBody{Locals: locals, Instrs: instrs})

	encoded := m.Encode()
	decoded, err := wasmbin.Decode(encoded)
	if err != nil {
		t.Fatalf("decode round-trip: %v", err)
	}
	return decoded
}

func instrument(t *testing.T, m *wasmbin.Module) *wasmbin.Module {
	t.Helper()
	out, err := Instrument(m.Encode(), DefaultOptions())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	decoded, err := wasmbin.Decode(out)
	if err != nil {
		t.Fatalf("decode instrumented module: %v", err)
	}
	return decoded
}

func i32Const(v int32) []byte {
	b := []byte{wasmbin.OpI32Const}
	return wasmbin.PutVarint(b, int64(v))
}

func callOp(idx uint32) []byte {
	b := []byte{wasmbin.OpCall}
	return wasmbin.PutUvarint(b, uint64(idx))
}

func TestInstrumentAddsGasChargeImport(t *testing.T) {
	src := buildModule(t, []byte{wasmbin.OpNop, wasmbin.OpEnd}, nil)
	out := instrument(t, src)

	if len(out.Imports) != 1 {
		t.Fatalf("expected exactly one import, got %d", len(out.Imports))
	}
	im := out.Imports[0]
	if im.Module != "env" || im.Name != "gas_charge" || im.Kind != wasmbin.ImportKindFunc {
		t.Fatalf("unexpected import: %+v", im)
	}
}

func TestInstrumentChargesStraightLineBlockAtFunctionEnd(t *testing.T) {
	// Three nops, each costing costTrivial, then the implicit function
	// end. No loop/branch appears, so the whole body is one metered
	// block and its single charge call is flushed right before the
	// nops it pays for — payment precedes the run, not the reverse.
	src := buildModule(t, []byte{wasmbin.OpNop, wasmbin.OpNop, wasmbin.OpNop, wasmbin.OpEnd}, nil)
	out := instrument(t, src)

	if len(out.Code) != 1 {
		t.Fatalf("expected exactly one function body, got %d", len(out.Code))
	}

	chargeFuncIdx := uint32(0) // the module had no imports, so gas_charge is import 0
	var want []byte
	want = append(want, i32Const(3)...) // 3 * costTrivial(1)
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop, wasmbin.OpNop, wasmbin.OpNop)
	want = append(want, wasmbin.OpEnd)

	if !bytes.Equal(out.Code[0].Instrs, want) {
		t.Fatalf("instrumented body = % x, want % x", out.Code[0].Instrs, want)
	}
}

func TestInstrumentFlushesBeforeLoopHeaderAndAtBranchExit(t *testing.T) {
	// nop; loop { br 0 }; end
	// The leading nop's cost is charged before the loop header is
	// reached. Inside the loop, br 0 costs costJump and its own block's
	// charge is emitted ahead of it too (a branch always ends its
	// metered block, and the charge for a block always precedes it).
	body := []byte{wasmbin.OpNop}
	body = append(body, wasmbin.OpLoop, 0x40) // loop, empty blocktype (-0x40 as single-byte signed LEB)
	body = append(body, wasmbin.OpBr, 0x00)
	body = append(body, wasmbin.OpEnd, wasmbin.OpEnd)

	src := buildModule(t, body, nil)
	out := instrument(t, src)

	chargeFuncIdx := uint32(0)
	// charge(1) [the leading nop, paid before the loop header], loop,
	// charge(3) [br 0's own block, paid before the branch], br 0, end, end.
	var want []byte
	want = append(want, i32Const(1)...)
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop)
	want = append(want, wasmbin.OpLoop, 0x40)
	want = append(want, i32Const(3)...)
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpBr, 0x00)
	want = append(want, wasmbin.OpEnd, wasmbin.OpEnd)

	if !bytes.Equal(out.Code[0].Instrs, want) {
		t.Fatalf("instrumented body = % x, want % x", out.Code[0].Instrs, want)
	}
}

func TestInstrumentChargesIfElseArmsSeparately(t *testing.T) {
	// nop; if { nop nop } else { nop nop nop } end; end
	// Only one of the two arms ever runs on a concrete execution path,
	// so each must be charged on its own — never folded into a single
	// charge covering both arms' combined cost.
	body := []byte{wasmbin.OpNop}
	body = append(body, wasmbin.OpIf, 0x40)
	body = append(body, wasmbin.OpNop, wasmbin.OpNop)
	body = append(body, wasmbin.OpElse)
	body = append(body, wasmbin.OpNop, wasmbin.OpNop, wasmbin.OpNop)
	body = append(body, wasmbin.OpEnd, wasmbin.OpEnd)

	src := buildModule(t, body, nil)
	out := instrument(t, src)

	chargeFuncIdx := uint32(0)
	var want []byte
	want = append(want, i32Const(1)...) // the leading nop, before the if
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop)
	want = append(want, wasmbin.OpIf, 0x40)
	want = append(want, i32Const(2)...) // then-arm: 2 nops, not 5
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop, wasmbin.OpNop)
	want = append(want, wasmbin.OpElse)
	want = append(want, i32Const(3)...) // else-arm: 3 nops, not 5
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop, wasmbin.OpNop, wasmbin.OpNop)
	want = append(want, wasmbin.OpEnd) // if's own end, merged forward
	want = append(want, wasmbin.OpEnd) // function's closing end

	if !bytes.Equal(out.Code[0].Instrs, want) {
		t.Fatalf("instrumented body = % x, want % x", out.Code[0].Instrs, want)
	}
}

func TestInstrumentChargesCodeAfterIfWithoutElseOnItsOwn(t *testing.T) {
	// if { nop } end; nop; nop; end
	// A false condition skips straight past the if's end, bypassing
	// whatever charge call sits inside the then-arm. The code after the
	// if must get its own charge, emitted after that end, so it is paid
	// for on every path instead of inheriting a charge the skip bypasses.
	body := []byte{wasmbin.OpIf, 0x40}
	body = append(body, wasmbin.OpNop)
	body = append(body, wasmbin.OpEnd)
	body = append(body, wasmbin.OpNop, wasmbin.OpNop)
	body = append(body, wasmbin.OpEnd)

	src := buildModule(t, body, nil)
	out := instrument(t, src)

	chargeFuncIdx := uint32(0)
	var want []byte
	want = append(want, wasmbin.OpIf, 0x40)
	want = append(want, i32Const(1)...) // then-arm's single nop
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop)
	want = append(want, wasmbin.OpEnd) // if's own end: the skip target
	want = append(want, i32Const(2)...) // post-if code, charged on its own
	want = append(want, callOp(chargeFuncIdx)...)
	want = append(want, wasmbin.OpNop, wasmbin.OpNop)
	want = append(want, wasmbin.OpEnd) // function's closing end

	if !bytes.Equal(out.Code[0].Instrs, want) {
		t.Fatalf("instrumented body = % x, want % x", out.Code[0].Instrs, want)
	}
}

func TestInstrumentReplacesMemoryGrowWithHelperCall(t *testing.T) {
	src := buildModule(t, []byte{wasmbin.OpMemoryGrow, 0x00, wasmbin.OpEnd}, nil)
	out := instrument(t, src)

	// Imports: gas_charge (0). Functions: original body (shifted to
	// index 1), grow helper (index 2).
	if len(out.Code) != 2 {
		t.Fatalf("expected original function + grow helper, got %d code bodies", len(out.Code))
	}
	growHelperIdx := uint32(2)

	instrs, err := wasmbin.Walk(out.Code[0].Instrs)
	if err != nil {
		t.Fatalf("walk instrumented body: %v", err)
	}
	foundCall := false
	for _, ins := range instrs {
		if ins.Op == wasmbin.OpMemoryGrow {
			t.Fatalf("memory.grow was not replaced")
		}
		if ins.Op == wasmbin.OpCall && ins.HasFuncIdx && ins.FuncIdx == growHelperIdx {
			foundCall = true
		}
	}
	if !foundCall {
		t.Fatalf("expected a call to the grow helper (idx %d), found none in %v", growHelperIdx, instrs)
	}

	// The grow helper's own body must perform the real memory.grow, and
	// must not have been re-instrumented into calling itself.
	helperInstrs, err := wasmbin.Walk(out.Code[1].Instrs)
	if err != nil {
		t.Fatalf("walk grow helper body: %v", err)
	}
	sawRealGrow := false
	for _, ins := range helperInstrs {
		if ins.Op == wasmbin.OpMemoryGrow {
			sawRealGrow = true
		}
		if ins.Op == wasmbin.OpCall && ins.HasFuncIdx && ins.FuncIdx == growHelperIdx {
			t.Fatalf("grow helper must not call itself")
		}
	}
	if !sawRealGrow {
		t.Fatalf("grow helper body lost its real memory.grow: %v", helperInstrs)
	}
}

func TestInstrumentRenumbersCallTargets(t *testing.T) {
	// Two defined functions: f0 calls f1. After instrumentation, f1's
	// index shifts from 1 to 2 (the new gas_charge import takes index
	// 0, pushing every defined function up by one).
	m := &wasmbin.Module{}
	typeIdx := m.AddType(wasmbin.FuncType{})
	m.AddFunction(typeIdx, wasmbin.CodeBody{Instrs: append(callOp(1), wasmbin.OpEnd)})
	m.AddFunction(typeIdx, wasmbin.CodeBody{Instrs: []byte{wasmbin.OpEnd}})

	decoded, err := wasmbin.Decode(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := instrument(t, decoded)

	instrs, err := wasmbin.Walk(out.Code[0].Instrs)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	sawShiftedCall := false
	for _, ins := range instrs {
		// Calls to index 0 are the injected gas_charge calls, not f0's own call.
		if ins.Op == wasmbin.OpCall && ins.HasFuncIdx && ins.FuncIdx != 0 {
			if ins.FuncIdx != 2 {
				t.Fatalf("expected call target 2 (shifted from 1), got %d", ins.FuncIdx)
			}
			sawShiftedCall = true
		}
	}
	if !sawShiftedCall {
		t.Fatalf("expected a call instruction in %v", instrs)
	}
}

func TestInstrumentRejectsFloatInstructionUnmodified(t *testing.T) {
	src := buildModule(t, []byte{wasmbin.OpF32Const, 0x00, 0x00, 0x00, 0x00, wasmbin.OpEnd}, nil)
	original := src.Encode()

	_, err := Instrument(src.Encode(), DefaultOptions())
	if err != ErrForbiddenInstruction {
		t.Fatalf("expected ErrForbiddenInstruction, got %v", err)
	}
	if !bytes.Equal(src.Encode(), original) {
		t.Fatalf("module was mutated despite rejecting instrumentation")
	}
}

func TestInstrumentRejectsFloatLocalUnmodified(t *testing.T) {
	src := buildModule(t, []byte{wasmbin.OpEnd}, []wasmbin.Local{{Count: 1, Type: wasmbin.ValF64}})

	_, err := Instrument(src.Encode(), DefaultOptions())
	if err != ErrForbiddenInstruction {
		t.Fatalf("expected ErrForbiddenInstruction, got %v", err)
	}
}

func TestInstrumentRejectsFloatParamUnmodified(t *testing.T) {
	m := &wasmbin.Module{}
	typeIdx := m.AddType(wasmbin.FuncType{Params: []byte{wasmbin.ValF32}})
	m.AddFunction(typeIdx, wasmbin.CodeBody{Instrs: []byte{wasmbin.OpEnd}})
	decoded, err := wasmbin.Decode(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if _, err := Instrument(decoded.Encode(), DefaultOptions()); err != ErrForbiddenInstruction {
		t.Fatalf("expected ErrForbiddenInstruction, got %v", err)
	}
}

func TestChargeChunksSplitsAcrossU32Max(t *testing.T) {
	// spec.md §8.6's seed scenario: a block costing 3*u32::MAX + 500
	// must charge three u32::MAX chunks followed by a 500 remainder.
	const u32Max = common.Gas(0xFFFFFFFF)
	amount := 3*u32Max + 500

	chunks := ChargeChunks(amount)
	want := []uint32{0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF, 500}
	if len(chunks) != len(want) {
		t.Fatalf("ChargeChunks(%d) = %v, want %v", amount, chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("ChargeChunks(%d)[%d] = %d, want %d", amount, i, chunks[i], want[i])
		}
	}
}

func TestChargeChunksExactMultiple(t *testing.T) {
	const u32Max = common.Gas(0xFFFFFFFF)
	chunks := ChargeChunks(2 * u32Max)
	if len(chunks) != 2 || chunks[0] != 0xFFFFFFFF || chunks[1] != 0xFFFFFFFF {
		t.Fatalf("ChargeChunks(2*u32Max) = %v", chunks)
	}
}

func TestChargeChunksZero(t *testing.T) {
	if chunks := ChargeChunks(0); chunks != nil {
		t.Fatalf("ChargeChunks(0) = %v, want nil", chunks)
	}
}

func TestChargeChunksBelowMax(t *testing.T) {
	chunks := ChargeChunks(42)
	if len(chunks) != 1 || chunks[0] != 42 {
		t.Fatalf("ChargeChunks(42) = %v", chunks)
	}
}
