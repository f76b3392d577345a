// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package wasmbin

import "fmt"

// Control-flow and index-carrying opcodes (core spec §5.4). Every other
// byte value not named here is either a plain no-immediate instruction
// (the bulk of the numeric opcode space) or decoded generically below.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
	OpSelect       byte = 0x1B
	OpSelectT      byte = 0x1C
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpTableGet     byte = 0x25
	OpTableSet     byte = 0x26
	OpMemoryLoLoad byte = 0x28 // first memory load/store opcode
	OpMemoryHiLoad byte = 0x3E // last memory load/store opcode
	OpMemorySize   byte = 0x3F
	OpMemoryGrow   byte = 0x40
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpExtended     byte = 0xFC
)

// BlockEmptyType marks a block/loop/if with no declared result type.
const BlockEmptyType int64 = -0x40

// Instr is one decoded instruction: its opcode, its byte bounds within the
// owning CodeBody.Instrs slice (End is exclusive), and whatever immediate
// the metering/renumbering passes need.
type Instr struct {
	Op         byte
	Off, End   int
	BlockType  int64  // OpBlock/OpLoop/OpIf
	LabelIdx   uint32 // OpBr/OpBrIf (branch depth)
	FuncIdx    uint32 // OpCall/OpRefFunc
	HasFuncIdx bool
	TypeIdx    uint32 // OpCallIndirect
	MemIdx     uint32 // OpMemorySize/OpMemoryGrow
}

// Walk decodes every instruction in instrs in order, from function entry
// to the final top-level `end`.
func Walk(instrs []byte) ([]Instr, error) {
	var out []Instr
	off := 0
	for off < len(instrs) {
		ins, next, err := decodeOne(instrs, off)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
		off = next
	}
	return out, nil
}

func decodeOne(b []byte, off int) (Instr, int, error) {
	start := off
	if off >= len(b) {
		return Instr{}, off, fmt.Errorf("wasmbin: truncated instruction stream")
	}
	op := b[off]
	off++
	ins := Instr{Op: op, Off: start}

	var err error
	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		var bt int64
		bt, off, err = ReadVarint(b, off)
		ins.BlockType = bt
	case op == OpElse || op == OpEnd || op == OpUnreachable || op == OpNop ||
		op == OpReturn || op == OpDrop || op == OpSelect:
		// no immediate
	case op == OpBr || op == OpBrIf:
		var v uint64
		v, off, err = ReadUvarint(b, off)
		ins.LabelIdx = uint32(v)
	case op == OpBrTable:
		var n uint64
		n, off, err = ReadUvarint(b, off)
		for i := uint64(0); i < n && err == nil; i++ {
			_, off, err = ReadUvarint(b, off)
		}
		if err == nil {
			_, off, err = ReadUvarint(b, off) // default label
		}
	case op == OpCall:
		var v uint64
		v, off, err = ReadUvarint(b, off)
		ins.FuncIdx = uint32(v)
		ins.HasFuncIdx = true
	case op == OpCallIndirect:
		var v uint64
		v, off, err = ReadUvarint(b, off)
		ins.TypeIdx = uint32(v)
		if err == nil {
			_, off, err = ReadUvarint(b, off) // table index
		}
	case op == OpRefFunc:
		var v uint64
		v, off, err = ReadUvarint(b, off)
		ins.FuncIdx = uint32(v)
		ins.HasFuncIdx = true
	case op == OpRefNull:
		off++ // reftype byte
	case op == OpRefIsNull:
		// no immediate
	case op == OpLocalGet || op == OpLocalSet || op == OpLocalTee ||
		op == OpGlobalGet || op == OpGlobalSet || op == OpTableGet || op == OpTableSet:
		_, off, err = ReadUvarint(b, off)
	case op >= OpMemoryLoLoad && op <= OpMemoryHiLoad:
		_, off, err = ReadUvarint(b, off) // align
		if err == nil {
			_, off, err = ReadUvarint(b, off) // offset
		}
	case op == OpMemorySize || op == OpMemoryGrow:
		var v uint64
		v, off, err = ReadUvarint(b, off)
		ins.MemIdx = uint32(v)
	case op == OpI32Const || op == OpI64Const:
		_, off, err = ReadVarint(b, off)
	case op == OpF32Const:
		off += 4
	case op == OpF64Const:
		off += 8
	case op == OpSelectT:
		var n uint64
		n, off, err = ReadUvarint(b, off)
		off += int(n)
	case op == OpExtended:
		var sub uint64
		sub, off, err = ReadUvarint(b, off)
		if err == nil {
			off, err = skipExtended(b, off, sub)
		}
	default:
		// The remainder of the MVP opcode space (numeric comparison,
		// arithmetic, conversion and sign-extension instructions) carries
		// no immediate operand.
	}
	if err != nil {
		return Instr{}, off, err
	}
	ins.End = off
	return ins, off, nil
}

// skipExtended advances past the immediate of an 0xFC-prefixed
// instruction, covering the saturating-truncation ops (no immediate) and
// the common bulk-memory ops. Any other sub-opcode is rejected rather
// than silently mis-parsed.
func skipExtended(b []byte, off int, sub uint64) (int, error) {
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // *.trunc_sat_* — no immediate
		return off, nil
	case 8: // memory.init dataidx, memidx
		var err error
		_, off, err = ReadUvarint(b, off)
		if err != nil {
			return off, err
		}
		_, off, err = ReadUvarint(b, off)
		return off, err
	case 9: // data.drop dataidx
		_, off, err := ReadUvarint(b, off)
		return off, err
	case 10: // memory.copy dst, src
		var err error
		_, off, err = ReadUvarint(b, off)
		if err != nil {
			return off, err
		}
		_, off, err = ReadUvarint(b, off)
		return off, err
	case 11: // memory.fill memidx
		_, off, err := ReadUvarint(b, off)
		return off, err
	case 12: // table.init elemidx, tableidx
		var err error
		_, off, err = ReadUvarint(b, off)
		if err != nil {
			return off, err
		}
		_, off, err = ReadUvarint(b, off)
		return off, err
	case 13: // elem.drop elemidx
		_, off, err := ReadUvarint(b, off)
		return off, err
	case 14: // table.copy dst, src
		var err error
		_, off, err = ReadUvarint(b, off)
		if err != nil {
			return off, err
		}
		_, off, err = ReadUvarint(b, off)
		return off, err
	case 15, 16, 17: // table.grow / table.size / table.fill — tableidx
		_, off, err := ReadUvarint(b, off)
		return off, err
	default:
		return off, fmt.Errorf("wasmbin: unsupported extended opcode 0xFC %d", sub)
	}
}
