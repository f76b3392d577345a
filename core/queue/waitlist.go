// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/probechain/gactor/common"
)

// ErrAlreadyWaiting is returned by Waitlist.Insert when id is already
// present — spec.md §3 names insertion as conflict-free, a duplicate id
// is a precondition violation by the caller.
var ErrAlreadyWaiting = errors.New("queue: message already in waitlist")

// WaitlistEntry pairs a suspended dispatch with the block at which it
// expires (spec.md §3 Waitlist).
type WaitlistEntry struct {
	Dispatch *Dispatch
	Expiry   common.BlockNumber
}

// Waitlist is spec.md §3's per-program map from message id to a
// suspended dispatch and its expiry, with a dirty flag the runner uses
// to decide whether the program's WaitlistHash needs recomputing after
// a block.
type Waitlist struct {
	entries map[common.MessageID]WaitlistEntry
	dirty   bool
}

// NewWaitlist returns an empty waitlist.
func NewWaitlist() *Waitlist {
	return &Waitlist{entries: make(map[common.MessageID]WaitlistEntry)}
}

// Insert adds id with its suspended dispatch and expiry, failing with
// ErrAlreadyWaiting if id is already present.
func (w *Waitlist) Insert(id common.MessageID, d *Dispatch, expiry common.BlockNumber) error {
	if _, ok := w.entries[id]; ok {
		return ErrAlreadyWaiting
	}
	w.entries[id] = WaitlistEntry{Dispatch: d, Expiry: expiry}
	w.dirty = true
	return nil
}

// Remove deletes id, returning its entry and whether it was present.
// Used by both gr_wake and the scheduled RemoveFromWaitlist task (spec.md
// §5 Cancellation).
func (w *Waitlist) Remove(id common.MessageID) (WaitlistEntry, bool) {
	e, ok := w.entries[id]
	if ok {
		delete(w.entries, id)
		w.dirty = true
	}
	return e, ok
}

// Get returns id's entry without removing it.
func (w *Waitlist) Get(id common.MessageID) (WaitlistEntry, bool) {
	e, ok := w.entries[id]
	return e, ok
}

// Len reports the number of waiting messages.
func (w *Waitlist) Len() int { return len(w.entries) }

// Dirty reports whether the waitlist has changed since the last
// ClearDirty call.
func (w *Waitlist) Dirty() bool { return w.dirty }

// ClearDirty resets the dirty flag, called after the runner has
// recomputed and persisted the waitlist's content hash.
func (w *Waitlist) ClearDirty() { w.dirty = false }

func sortedMessageIDs(entries map[common.MessageID]WaitlistEntry) []common.MessageID {
	ids := make([]common.MessageID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids
}

// MarshalBinary encodes the waitlist as an entry count followed by
// (id, expiry, dispatch) triples in ascending message-id order — a
// canonical iteration order is required so that two waitlists with the
// same content always hash identically regardless of insertion history.
func (w *Waitlist) MarshalBinary() ([]byte, error) {
	ids := sortedMessageIDs(w.entries)
	buf := make([]byte, 4, 4+len(ids)*64)
	binary.LittleEndian.PutUint32(buf, uint32(len(ids)))

	for _, id := range ids {
		e := w.entries[id]
		buf = append(buf, id[:]...)
		var expiry [4]byte
		binary.LittleEndian.PutUint32(expiry[:], uint32(e.Expiry))
		buf = append(buf, expiry[:]...)

		enc, err := e.Dispatch.MarshalBinary()
		if err != nil {
			return nil, err
		}
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(enc)))
		buf = append(buf, length[:]...)
		buf = append(buf, enc...)
	}
	return buf, nil
}

// UnmarshalBinary is MarshalBinary's inverse.
func (w *Waitlist) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("queue: truncated waitlist count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4

	entries := make(map[common.MessageID]WaitlistEntry, count)
	for i := 0; i < count; i++ {
		if len(data) < off+32+4+4 {
			return fmt.Errorf("queue: truncated waitlist entry %d", i)
		}
		var id common.MessageID
		id.SetBytes(data[off : off+32])
		off += 32
		expiry := common.BlockNumber(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		length := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+length {
			return fmt.Errorf("queue: truncated waitlist dispatch %d", i)
		}
		var d Dispatch
		if err := d.UnmarshalBinary(data[off : off+length]); err != nil {
			return err
		}
		off += length
		entries[id] = WaitlistEntry{Dispatch: &d, Expiry: expiry}
	}

	w.entries = entries
	return nil
}

// Hash returns the content hash of the waitlist's canonical encoding.
func (w *Waitlist) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := w.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
