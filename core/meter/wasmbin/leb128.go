// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package wasmbin

import "fmt"

// ReadUvarint reads a LEB128-encoded unsigned integer starting at b[off],
// returning the decoded value and the offset just past it.
func ReadUvarint(b []byte, off int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if off >= len(b) {
			return 0, off, fmt.Errorf("wasmbin: truncated uvarint")
		}
		byt := b[off]
		off++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, off, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, off, fmt.Errorf("wasmbin: uvarint overflow")
		}
	}
}

// ReadVarint reads a LEB128-encoded signed integer starting at b[off].
func ReadVarint(b []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	var byt byte
	for {
		if off >= len(b) {
			return 0, off, fmt.Errorf("wasmbin: truncated varint")
		}
		byt = b[off]
		off++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, off, fmt.Errorf("wasmbin: varint overflow")
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, off, nil
}

// PutUvarint appends v to dst as LEB128 and returns the extended slice.
func PutUvarint(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// PutVarint appends v to dst as signed LEB128 and returns the extended slice.
func PutVarint(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			dst = append(dst, b)
			return dst
		}
		dst = append(dst, b|0x80)
	}
}

// UvarintLen returns the number of bytes PutUvarint would emit for v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
