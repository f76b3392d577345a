// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package common holds the fixed-size identifier and value types shared by
// every package in the actor runtime: content hashes, actor/message/code
// ids, and the 128-bit balance type. None of these carry a pointer; all are
// plain, comparable arrays so they can be used as map keys and compared with
// ==.
package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
)

// IDLength is the length in bytes of every opaque identifier the core
// accepts: actor id, message id, code id, reservation id.
const IDLength = 32

// Hash is the 32-byte output of the content-addressing hash oracle.
type Hash [IDLength]byte

// BytesToHash sets h to the value of b, cropping from the left if b is
// longer than IDLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash decodes a "0x"-prefixed hex string into a Hash.
func HexToHash(s string) Hash { return BytesToHash(FromHex(s)) }

// SetBytes sets the hash to the value of b, cropping from the left if b is
// longer than IDLength.
func (h *Hash) SetBytes(b []byte) { setBytesInto(h[:], b) }

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the "0x"-prefixed hex representation of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// TerminalString formats h for compact console logging.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x..%x", h[:3], h[29:])
}

// IsZero reports whether h is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// Cmp returns -1, 0, or 1 as h is lexicographically less than, equal to, or
// greater than other.
func (h Hash) Cmp(other Hash) int { return bytes.Compare(h[:], other[:]) }

// ActorID uniquely identifies a program (actor) in the runtime.
type ActorID [IDLength]byte

func BytesToActorID(b []byte) ActorID { var a ActorID; setBytesInto(a[:], b); return a }
func (a *ActorID) SetBytes(b []byte)  { setBytesInto(a[:], b) }
func (a ActorID) Bytes() []byte       { return a[:] }
func (a ActorID) Hex() string         { return "0x" + hex.EncodeToString(a[:]) }
func (a ActorID) String() string      { return a.Hex() }
func (a ActorID) IsZero() bool        { return a == ActorID{} }
func (a ActorID) Cmp(b ActorID) int   { return bytes.Compare(a[:], b[:]) }

// MessageID uniquely identifies a dispatch.
type MessageID [IDLength]byte

func BytesToMessageID(b []byte) MessageID { var m MessageID; setBytesInto(m[:], b); return m }
func (m *MessageID) SetBytes(b []byte)    { setBytesInto(m[:], b) }
func (m MessageID) Bytes() []byte         { return m[:] }
func (m MessageID) Hex() string           { return "0x" + hex.EncodeToString(m[:]) }
func (m MessageID) String() string        { return m.Hex() }
func (m MessageID) IsZero() bool          { return m == MessageID{} }
func (m MessageID) Cmp(b MessageID) int   { return bytes.Compare(m[:], b[:]) }

// CodeID uniquely identifies an uploaded, not-yet-instrumented WASM binary.
type CodeID [IDLength]byte

func BytesToCodeID(b []byte) CodeID { var c CodeID; setBytesInto(c[:], b); return c }
func (c *CodeID) SetBytes(b []byte) { setBytesInto(c[:], b) }
func (c CodeID) Bytes() []byte      { return c[:] }
func (c CodeID) Hex() string        { return "0x" + hex.EncodeToString(c[:]) }
func (c CodeID) String() string     { return c.Hex() }
func (c CodeID) IsZero() bool       { return c == CodeID{} }

// ReservationID uniquely identifies a pre-created gas reservation (§4.8).
type ReservationID [IDLength]byte

func BytesToReservationID(b []byte) ReservationID {
	var r ReservationID
	setBytesInto(r[:], b)
	return r
}
func (r *ReservationID) SetBytes(b []byte) { setBytesInto(r[:], b) }
func (r ReservationID) Bytes() []byte      { return r[:] }
func (r ReservationID) Hex() string        { return "0x" + hex.EncodeToString(r[:]) }
func (r ReservationID) String() string     { return r.Hex() }
func (r ReservationID) IsZero() bool       { return r == ReservationID{} }

// setBytesInto is shared crop-from-the-left logic for every fixed-id type.
func setBytesInto(dst, src []byte) {
	if len(src) > len(dst) {
		src = src[len(src)-len(dst):]
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[len(dst)-len(src):], src)
}

// FromHex decodes a hex string, tolerating a leading "0x"/"0X".
func FromHex(s string) []byte {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// SortActorIDs sorts ids in ascending lexicographic order, in place.
func SortActorIDs(ids []ActorID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
}
