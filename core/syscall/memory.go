// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syscall

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/msgctx"
)

// encodeU32 returns v's 4-byte little-endian encoding, for writing a
// handle or page index into a caller-supplied output pointer.
func encodeU32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// decodeHandle narrows a raw WASM i32 argument to msgctx.Handle.
func decodeHandle(raw uint32) msgctx.Handle { return msgctx.Handle(raw) }

// readBytes returns a copy of length bytes of mod's linear memory starting
// at ptr, trapping AccessOutOfBounds if the range falls outside current
// memory (spec.md §4.4: "All pointers are bounds-checked; out-of-bounds
// access fails the syscall ... and the invocation traps").
func readBytes(mod api.Module, ptr, length uint32) []byte {
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		trap(ErrAccessOutOfBounds)
	}
	out := make([]byte, length)
	copy(out, b)
	return out
}

// writeBytes writes data into mod's linear memory at ptr, trapping
// AccessOutOfBounds on failure.
func writeBytes(mod api.Module, ptr uint32, data []byte) {
	if !mod.Memory().Write(ptr, data) {
		trap(ErrAccessOutOfBounds)
	}
}

func readID32(mod api.Module, ptr uint32) [32]byte {
	var out [32]byte
	copy(out[:], readBytes(mod, ptr, 32))
	return out
}

func readActorID(mod api.Module, ptr uint32) common.ActorID {
	return common.ActorID(readID32(mod, ptr))
}
func readMessageID(mod api.Module, ptr uint32) common.MessageID {
	return common.MessageID(readID32(mod, ptr))
}
func readCodeID(mod api.Module, ptr uint32) common.CodeID {
	return common.CodeID(readID32(mod, ptr))
}
func readReservationID(mod api.Module, ptr uint32) common.ReservationID {
	return common.ReservationID(readID32(mod, ptr))
}

func writeActorID(mod api.Module, ptr uint32, id common.ActorID)           { writeBytes(mod, ptr, id[:]) }
func writeMessageID(mod api.Module, ptr uint32, id common.MessageID)       { writeBytes(mod, ptr, id[:]) }
func writeHash(mod api.Module, ptr uint32, h common.Hash)                  { writeBytes(mod, ptr, h[:]) }
func writeReservationID(mod api.Module, ptr uint32, id common.ReservationID) { writeBytes(mod, ptr, id[:]) }

// readValue128 decodes spec.md §6's 16-byte little-endian Value128
// encoding at ptr.
func readValue128(mod api.Module, ptr uint32) common.Value128 {
	var b [16]byte
	copy(b[:], readBytes(mod, ptr, 16))
	return common.Value128FromBytes16(b)
}

func writeValue128(mod api.Module, ptr uint32, v common.Value128) {
	b := v.Bytes16()
	writeBytes(mod, ptr, b[:])
}

// readOptionalGas decodes an optional 8-byte little-endian gas amount,
// returning nil when ptr is AbsentPtr.
func readOptionalGas(mod api.Module, ptr uint32) *common.Gas {
	if ptr == AbsentPtr {
		return nil
	}
	b := readBytes(mod, ptr, 8)
	g := common.Gas(binary.LittleEndian.Uint64(b))
	return &g
}

// readOptionalDelay decodes an optional 4-byte little-endian delay
// (measured in blocks, gasconf.Config.DelayGranularity), returning nil
// when ptr is AbsentPtr.
func readOptionalDelay(mod api.Module, ptr uint32) *uint32 {
	if ptr == AbsentPtr {
		return nil
	}
	b := readBytes(mod, ptr, 4)
	d := binary.LittleEndian.Uint32(b)
	return &d
}

// writeErrorLen is the fallible-syscall return convention of spec.md
// §4.4: zero on success, else the length of the code written into the
// invocation's last-error buffer.
func writeErrorLen(ext Externalities, err error) uint32 {
	if err == nil {
		ext.ClearLastError()
		return 0
	}
	return ext.SetLastError(err)
}
