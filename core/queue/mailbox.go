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

// ErrAlreadyInMailbox is returned by Mailbox.Insert when the (user, id)
// pair is already present.
var ErrAlreadyInMailbox = errors.New("queue: message already in mailbox")

// MailboxEntry is a value held for a user to claim, with the block at
// which it expires if unclaimed (spec.md §3 Mailbox).
type MailboxEntry struct {
	Value  common.Value128
	Expiry common.BlockNumber
}

// Mailbox is spec.md §3's per-program map from user id to a map from
// message id to a held value and its expiry. Removing a (user, message)
// pair claims the value; a user's sub-map is pruned once it becomes
// empty, so Len reflects only users with at least one outstanding entry.
type Mailbox struct {
	byUser map[common.ActorID]map[common.MessageID]MailboxEntry
	dirty  bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{byUser: make(map[common.ActorID]map[common.MessageID]MailboxEntry)}
}

// Insert adds id to user's sub-map, failing with ErrAlreadyInMailbox if
// (user, id) already exists.
func (m *Mailbox) Insert(user common.ActorID, id common.MessageID, e MailboxEntry) error {
	sub, ok := m.byUser[user]
	if !ok {
		sub = make(map[common.MessageID]MailboxEntry)
		m.byUser[user] = sub
	} else if _, exists := sub[id]; exists {
		return ErrAlreadyInMailbox
	}
	sub[id] = e
	m.dirty = true
	return nil
}

// Remove claims and deletes (user, id), pruning user's sub-map if it
// becomes empty. Returns the claimed entry and whether it was present.
func (m *Mailbox) Remove(user common.ActorID, id common.MessageID) (MailboxEntry, bool) {
	sub, ok := m.byUser[user]
	if !ok {
		return MailboxEntry{}, false
	}
	e, ok := sub[id]
	if !ok {
		return MailboxEntry{}, false
	}
	delete(sub, id)
	if len(sub) == 0 {
		delete(m.byUser, user)
	}
	m.dirty = true
	return e, true
}

// Get returns (user, id)'s entry without removing it.
func (m *Mailbox) Get(user common.ActorID, id common.MessageID) (MailboxEntry, bool) {
	sub, ok := m.byUser[user]
	if !ok {
		return MailboxEntry{}, false
	}
	e, ok := sub[id]
	return e, ok
}

// Len reports the number of users with at least one outstanding entry.
func (m *Mailbox) Len() int { return len(m.byUser) }

// Dirty reports whether the mailbox has changed since the last
// ClearDirty call.
func (m *Mailbox) Dirty() bool { return m.dirty }

// ClearDirty resets the dirty flag.
func (m *Mailbox) ClearDirty() { m.dirty = false }

// MarshalBinary encodes the mailbox as a user count followed by, for
// each user in ascending actor-id order, the user id, its entry count,
// and (id, value, expiry) triples in ascending message-id order — the
// same canonical-ordering discipline as Waitlist/DispatchStash.
func (m *Mailbox) MarshalBinary() ([]byte, error) {
	users := make([]common.ActorID, 0, len(m.byUser))
	for u := range m.byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Cmp(users[j]) < 0 })

	buf := make([]byte, 4, 4+len(users)*64)
	binary.LittleEndian.PutUint32(buf, uint32(len(users)))

	for _, u := range users {
		sub := m.byUser[u]
		ids := make([]common.MessageID, 0, len(sub))
		for id := range sub {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })

		buf = append(buf, u[:]...)
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], uint32(len(ids)))
		buf = append(buf, count[:]...)

		for _, id := range ids {
			e := sub[id]
			buf = append(buf, id[:]...)
			value := e.Value.Bytes16()
			buf = append(buf, value[:]...)
			var expiry [4]byte
			binary.LittleEndian.PutUint32(expiry[:], uint32(e.Expiry))
			buf = append(buf, expiry[:]...)
		}
	}
	return buf, nil
}

// UnmarshalBinary is MarshalBinary's inverse.
func (m *Mailbox) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("queue: truncated mailbox user count")
	}
	userCount := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4

	byUser := make(map[common.ActorID]map[common.MessageID]MailboxEntry, userCount)
	for i := 0; i < userCount; i++ {
		if len(data) < off+32+4 {
			return fmt.Errorf("queue: truncated mailbox user %d", i)
		}
		var user common.ActorID
		user.SetBytes(data[off : off+32])
		off += 32
		entryCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4

		sub := make(map[common.MessageID]MailboxEntry, entryCount)
		for j := 0; j < entryCount; j++ {
			if len(data) < off+32+16+4 {
				return fmt.Errorf("queue: truncated mailbox entry %d/%d", i, j)
			}
			var id common.MessageID
			id.SetBytes(data[off : off+32])
			off += 32
			var value [16]byte
			copy(value[:], data[off:off+16])
			off += 16
			expiry := common.BlockNumber(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			sub[id] = MailboxEntry{Value: common.Value128FromBytes16(value), Expiry: expiry}
		}
		byUser[user] = sub
	}

	m.byUser = byUser
	return nil
}

// Hash returns the content hash of the mailbox's canonical encoding.
func (m *Mailbox) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := m.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
