// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package common

import (
	"encoding/binary"
	"fmt"
)

// BlockNumber is a block height, per spec.md §3.
type BlockNumber uint32

// Timestamp is a millisecond (or embedder-defined) clock value, per spec.md §3.
type Timestamp uint64

// Gas is an abstract unit of metered computational work, per spec.md §3.
type Gas uint64

// Value128 is an unsigned 128-bit balance, stored as two 64-bit limbs so
// that arithmetic avoids math/big allocation on the hot message-dispatch
// path, following the teacher lineage's own avoidance of math/big in its
// register VM (probe-lang/lang/vm.VM uses flat uint64s, never *big.Int).
type Value128 struct {
	Lo uint64 // least-significant 64 bits
	Hi uint64 // most-significant 64 bits
}

// ZeroValue is the zero Value128.
var ZeroValue = Value128{}

// NewValue128 builds a Value128 from a uint64, with Hi set to zero.
func NewValue128(v uint64) Value128 { return Value128{Lo: v} }

// IsZero reports whether v is zero.
func (v Value128) IsZero() bool { return v.Lo == 0 && v.Hi == 0 }

// Cmp returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Value128) Cmp(o Value128) int {
	if v.Hi != o.Hi {
		if v.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if v.Lo != o.Lo {
		if v.Lo < o.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Add returns v+o. Overflow beyond 128 bits wraps silently, matching the
// VM's own wrapping 64-bit arithmetic convention (probe-lang/lang/vm.OpAdd).
func (v Value128) Add(o Value128) Value128 {
	lo := v.Lo + o.Lo
	carry := uint64(0)
	if lo < v.Lo {
		carry = 1
	}
	return Value128{Lo: lo, Hi: v.Hi + o.Hi + carry}
}

// Sub returns v-o. The caller is responsible for checking v.Cmp(o) >= 0
// first; callers in this codebase always do (balance checks precede
// transfers, per spec.md §4.3's total-supply invariant).
func (v Value128) Sub(o Value128) Value128 {
	lo := v.Lo - o.Lo
	borrow := uint64(0)
	if v.Lo < o.Lo {
		borrow = 1
	}
	return Value128{Lo: lo, Hi: v.Hi - o.Hi - borrow}
}

// Bytes16 returns the 16-byte little-endian encoding used on the wire
// (spec.md §6 queue entry layout, §4.4 argument decoding).
func (v Value128) Bytes16() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], v.Lo)
	binary.LittleEndian.PutUint64(b[8:16], v.Hi)
	return b
}

// Value128FromBytes16 decodes the 16-byte little-endian wire encoding.
func Value128FromBytes16(b [16]byte) Value128 {
	return Value128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// String implements fmt.Stringer, rendering decimal when the value fits in
// 64 bits (the common case) and a hi:lo pair otherwise.
func (v Value128) String() string {
	if v.Hi == 0 {
		return fmt.Sprintf("%d", v.Lo)
	}
	return fmt.Sprintf("%d:%020d", v.Hi, v.Lo)
}
