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

// ErrAlreadyReserved is returned by ReservationMap.Insert when id is
// already present.
var ErrAlreadyReserved = errors.New("queue: reservation already exists")

// ReservationEntry records a pre-created gas reservation's remaining
// amount and the block at which it expires (SPEC_FULL.md §4.8): a
// reservation is a gas-node-tree leaf addressed by its reservation id,
// created by reserve_gas(amount, duration) and removed whole by
// unreserve_gas or by reservation_send/reservation_reply, which pass
// Amount as the message's gas limit.
type ReservationEntry struct {
	Amount common.Gas
	Expiry common.BlockNumber
}

// ReservationMap is the program-envelope map held alongside the
// waitlist/stash/mailbox content hashes (SPEC_FULL.md §4.8), one entry
// per outstanding reservation. Expiry is enforced by a scheduled
// RemoveReservation task, the fifth schedule-task kind this core adds
// to spec.md §3's four.
type ReservationMap struct {
	entries map[common.ReservationID]ReservationEntry
	dirty   bool
}

// NewReservationMap returns an empty reservation map.
func NewReservationMap() *ReservationMap {
	return &ReservationMap{entries: make(map[common.ReservationID]ReservationEntry)}
}

// Insert records a new reservation, failing with ErrAlreadyReserved if
// id is already present.
func (r *ReservationMap) Insert(id common.ReservationID, e ReservationEntry) error {
	if _, ok := r.entries[id]; ok {
		return ErrAlreadyReserved
	}
	r.entries[id] = e
	r.dirty = true
	return nil
}

// Remove deletes id, returning its entry and whether it was present.
// Called by both unreserve_gas and the scheduled RemoveReservation task.
func (r *ReservationMap) Remove(id common.ReservationID) (ReservationEntry, bool) {
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.dirty = true
	}
	return e, ok
}

// Spend debits amount from id's remaining reservation.
// reservation_send/reservation_reply do not call it; they remove the
// whole entry.
func (r *ReservationMap) Spend(id common.ReservationID, amount common.Gas) error {
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("queue: unknown reservation %s", id)
	}
	if e.Amount < amount {
		return fmt.Errorf("queue: reservation %s has insufficient balance", id)
	}
	e.Amount -= amount
	r.entries[id] = e
	r.dirty = true
	return nil
}

// Get returns id's entry without removing it.
func (r *ReservationMap) Get(id common.ReservationID) (ReservationEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Len reports the number of outstanding reservations.
func (r *ReservationMap) Len() int { return len(r.entries) }

// Entries returns a copy of the full reservation set, for a caller that
// needs to diff the map against an earlier snapshot (core/runner uses
// this to find reservations a just-finished invocation created, so it
// can schedule each one's expiry).
func (r *ReservationMap) Entries() map[common.ReservationID]ReservationEntry {
	out := make(map[common.ReservationID]ReservationEntry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

// Dirty reports whether the map has changed since the last ClearDirty
// call.
func (r *ReservationMap) Dirty() bool { return r.dirty }

// ClearDirty resets the dirty flag.
func (r *ReservationMap) ClearDirty() { r.dirty = false }

// MarshalBinary encodes the reservation map as an entry count followed
// by (id, amount, expiry) triples in ascending reservation-id order.
func (r *ReservationMap) MarshalBinary() ([]byte, error) {
	ids := make([]common.ReservationID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i].Bytes()) < string(ids[j].Bytes())
	})

	buf := make([]byte, 4, 4+len(ids)*44)
	binary.LittleEndian.PutUint32(buf, uint32(len(ids)))

	for _, id := range ids {
		e := r.entries[id]
		buf = append(buf, id[:]...)
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], uint64(e.Amount))
		buf = append(buf, amount[:]...)
		var expiry [4]byte
		binary.LittleEndian.PutUint32(expiry[:], uint32(e.Expiry))
		buf = append(buf, expiry[:]...)
	}
	return buf, nil
}

// UnmarshalBinary is MarshalBinary's inverse.
func (r *ReservationMap) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("queue: truncated reservation map count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4

	entries := make(map[common.ReservationID]ReservationEntry, count)
	for i := 0; i < count; i++ {
		if len(data) < off+32+8+4 {
			return fmt.Errorf("queue: truncated reservation entry %d", i)
		}
		var id common.ReservationID
		id.SetBytes(data[off : off+32])
		off += 32
		amount := common.Gas(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		expiry := common.BlockNumber(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		entries[id] = ReservationEntry{Amount: amount, Expiry: expiry}
	}

	r.entries = entries
	return nil
}

// Hash returns the content hash of the reservation map's canonical
// encoding.
func (r *ReservationMap) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := r.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
