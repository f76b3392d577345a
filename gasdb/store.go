// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gasdb implements spec.md §6's two storage traits — a
// content-addressed store and a key/value store — and the `prefix32 ‖
// key_tail` keying convention every entity kind uses on top of the KV
// store. Concrete backends live in subpackages (gasdb/leveldb).
package gasdb

import "github.com/probechain/gactor/common"

// KeyValueStore is spec.md §6's key-value trait.
type KeyValueStore interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key []byte, value []byte) error
	Contains(key []byte) (bool, error)
	IterPrefix(prefix []byte) Iterator
	Close() error
}

// Iterator walks a key/value range in ascending key order. Callers must
// call Release when done; Error reports any iteration fault, checked
// after Next returns false.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// CASStore is spec.md §6's content-addressed store trait: write is
// deterministic in content (the same bytes always hash, and therefore
// key, identically).
type CASStore interface {
	Write(data []byte) (common.Hash, error)
	Read(hash common.Hash) ([]byte, bool, error)
	Contains(hash common.Hash) (bool, error)
}

// EntityKind discriminates the entity kinds persisted under the KV
// store, one discriminant per kind named in spec.md §3/§6: program
// state, page-map regions, queue dispatches, waitlist/stash/mailbox
// entries, stored (1KiB or larger) payloads, instrumented code keyed by
// (runtime_version, code_id), and the plain point-lookup KV entries of
// §6's "Persisted layout" (schedule buckets, the program→code_id index,
// code metadata/validity, block headers and event lists).
type EntityKind byte

const (
	KindProgramState EntityKind = iota
	KindPageMapRegion
	KindQueueDispatch
	KindWaitlistEntry
	KindStashEntry
	KindMailboxEntry
	KindPayload
	KindInstrumentedCode
	KindScheduleBucket
	KindProgramCodeIndex
	KindCodeMetadata
	KindCodeValidity
	KindBlockHeader
	KindBlockEvents
	// KindReservationEntry stores a program's gas-reservation map
	// (SPEC_FULL.md §4.8), added after the kinds above were first laid
	// out; appended rather than inserted so it never renumbers an
	// existing kind's on-disk tag.
	KindReservationEntry
)

// Prefix32 returns the 32-byte discriminant tag for kind: the kind byte
// in the last position, zero elsewhere. Every kind's tag therefore
// differs in exactly one byte, and a KV scan over Prefix32(kind) finds
// every entity of that kind regardless of its key_tail's own length.
func Prefix32(kind EntityKind) [32]byte {
	var p [32]byte
	p[31] = byte(kind)
	return p
}

// Key builds the `prefix32 ‖ key_tail` composite key for kind and tail.
func Key(kind EntityKind, tail []byte) []byte {
	prefix := Prefix32(kind)
	out := make([]byte, 0, len(prefix)+len(tail))
	out = append(out, prefix[:]...)
	out = append(out, tail...)
	return out
}

// InstrumentedCodeTail builds the key_tail for KindInstrumentedCode:
// (runtime_version, code_id), per spec.md §4.6c / §6.
func InstrumentedCodeTail(runtimeVersion uint32, codeID common.CodeID) []byte {
	tail := make([]byte, 4+common.IDLength)
	tail[0] = byte(runtimeVersion)
	tail[1] = byte(runtimeVersion >> 8)
	tail[2] = byte(runtimeVersion >> 16)
	tail[3] = byte(runtimeVersion >> 24)
	copy(tail[4:], codeID.Bytes())
	return tail
}
