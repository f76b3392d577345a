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

// ErrAlreadyStashed is returned by DispatchStash.Insert when id is
// already present.
var ErrAlreadyStashed = errors.New("queue: message already stashed")

// StashEntry is a delayed send held back from the global queue until its
// expiry, optionally destined for a specific user recipient (spec.md §3
// Dispatch stash).
type StashEntry struct {
	Dispatch  *Dispatch
	Expiry    common.BlockNumber
	HasUser   bool
	Recipient common.ActorID // valid iff HasUser
}

// DispatchStash is spec.md §3's per-program map from message id to a
// delayed dispatch, the holding place for sends that carry a `[delay]`
// (spec.md §4.4 Messaging). core/msgctx does not use a send's delay, so
// no invocation inserts here; the runner only removes entries, through
// the scheduled RemoveFromStash task.
type DispatchStash struct {
	entries map[common.MessageID]StashEntry
	dirty   bool
}

// NewDispatchStash returns an empty stash.
func NewDispatchStash() *DispatchStash {
	return &DispatchStash{entries: make(map[common.MessageID]StashEntry)}
}

// Insert adds id's delayed entry, failing with ErrAlreadyStashed if id
// is already present.
func (s *DispatchStash) Insert(id common.MessageID, e StashEntry) error {
	if _, ok := s.entries[id]; ok {
		return ErrAlreadyStashed
	}
	s.entries[id] = e
	s.dirty = true
	return nil
}

// Remove deletes id, returning its entry and whether it was present.
// Used by the scheduled RemoveFromStash task, which moves the stashed
// dispatch into the global queue or the mailbox depending on HasUser.
func (s *DispatchStash) Remove(id common.MessageID) (StashEntry, bool) {
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.dirty = true
	}
	return e, ok
}

// Get returns id's entry without removing it.
func (s *DispatchStash) Get(id common.MessageID) (StashEntry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len reports the number of stashed dispatches.
func (s *DispatchStash) Len() int { return len(s.entries) }

// Dirty reports whether the stash has changed since the last
// ClearDirty call.
func (s *DispatchStash) Dirty() bool { return s.dirty }

// ClearDirty resets the dirty flag.
func (s *DispatchStash) ClearDirty() { s.dirty = false }

// MarshalBinary encodes the stash as an entry count followed by
// (id, expiry, has_user, [recipient], dispatch) tuples in ascending
// message-id order, for the same canonical-ordering reason as
// Waitlist.MarshalBinary.
func (s *DispatchStash) MarshalBinary() ([]byte, error) {
	ids := make([]common.MessageID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })

	buf := make([]byte, 4, 4+len(ids)*96)
	binary.LittleEndian.PutUint32(buf, uint32(len(ids)))

	for _, id := range ids {
		e := s.entries[id]
		buf = append(buf, id[:]...)
		var expiry [4]byte
		binary.LittleEndian.PutUint32(expiry[:], uint32(e.Expiry))
		buf = append(buf, expiry[:]...)

		if e.HasUser {
			buf = append(buf, 1)
			buf = append(buf, e.Recipient[:]...)
		} else {
			buf = append(buf, 0)
		}

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
func (s *DispatchStash) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("queue: truncated stash count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4

	entries := make(map[common.MessageID]StashEntry, count)
	for i := 0; i < count; i++ {
		if len(data) < off+32+4+1 {
			return fmt.Errorf("queue: truncated stash entry %d", i)
		}
		var id common.MessageID
		id.SetBytes(data[off : off+32])
		off += 32
		expiry := common.BlockNumber(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4

		hasUser := data[off] != 0
		off++
		var recipient common.ActorID
		if hasUser {
			if len(data) < off+32 {
				return fmt.Errorf("queue: truncated stash recipient %d", i)
			}
			recipient.SetBytes(data[off : off+32])
			off += 32
		}

		if len(data) < off+4 {
			return fmt.Errorf("queue: truncated stash dispatch length %d", i)
		}
		length := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+length {
			return fmt.Errorf("queue: truncated stash dispatch %d", i)
		}
		var d Dispatch
		if err := d.UnmarshalBinary(data[off : off+length]); err != nil {
			return err
		}
		off += length

		entries[id] = StashEntry{Dispatch: &d, Expiry: expiry, HasUser: hasUser, Recipient: recipient}
	}

	s.entries = entries
	return nil
}

// Hash returns the content hash of the stash's canonical encoding.
func (s *DispatchStash) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := s.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
