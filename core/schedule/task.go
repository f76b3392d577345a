// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package schedule implements spec.md §3's block→task-set schedule: the
// map from block number to the set of tasks due at that block, processed
// in ascending block order with insertion-order tie-breaking within a
// block (spec.md §9 Open Question (b), resolved as the spec's stated
// default).
package schedule

import (
	"encoding/binary"
	"fmt"

	"github.com/probechain/gactor/common"
)

// Kind discriminates a scheduled task's effect. The first four match
// spec.md §3's named task set; RemoveReservation is the fifth kind this
// core adds for SPEC_FULL.md §4.8's gas reservations.
type Kind uint8

const (
	KindWakeMessage Kind = iota
	KindRemoveFromMailbox
	KindRemoveFromWaitlist
	KindRemoveFromStash
	KindRemoveReservation
)

func (k Kind) String() string {
	switch k {
	case KindWakeMessage:
		return "wake-message"
	case KindRemoveFromMailbox:
		return "remove-from-mailbox"
	case KindRemoveFromWaitlist:
		return "remove-from-waitlist"
	case KindRemoveFromStash:
		return "remove-from-stash"
	case KindRemoveReservation:
		return "remove-reservation"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Task is a single scheduled effect. Only the fields relevant to Kind
// are meaningful; construct with the *Task helpers rather than a
// literal to avoid populating the wrong combination.
type Task struct {
	Kind          Kind
	Program       common.ActorID       // WakeMessage, RemoveFromMailbox, RemoveFromWaitlist, RemoveFromStash, RemoveReservation
	User          common.ActorID       // RemoveFromMailbox
	MessageID     common.MessageID     // WakeMessage, RemoveFromMailbox, RemoveFromWaitlist, RemoveFromStash
	ReservationID common.ReservationID // RemoveReservation
}

// WakeMessageTask re-enqueues the waiting dispatch (program, msg) at its
// scheduled wake time (spec.md §3 Schedule, §4.6.1).
func WakeMessageTask(program common.ActorID, msg common.MessageID) Task {
	return Task{Kind: KindWakeMessage, Program: program, MessageID: msg}
}

// RemoveFromMailboxTask expires an unclaimed mailbox entry for
// (user, msg); program names the actor whose mailbox holds the entry
// (core/queue.Mailbox is a per-program structure).
func RemoveFromMailboxTask(program, user common.ActorID, msg common.MessageID) Task {
	return Task{Kind: KindRemoveFromMailbox, Program: program, User: user, MessageID: msg}
}

// RemoveFromWaitlistTask cancels a waiting dispatch (program, msg)
// whose expiry was reached without an explicit wake (spec.md §5
// Cancellation), returning its value to the source.
func RemoveFromWaitlistTask(program common.ActorID, msg common.MessageID) Task {
	return Task{Kind: KindRemoveFromWaitlist, Program: program, MessageID: msg}
}

// RemoveFromStashTask moves a stashed delayed send (msg) out of program's
// dispatch stash (core/queue.DispatchStash is a per-program structure,
// like Mailbox and Waitlist).
func RemoveFromStashTask(program common.ActorID, msg common.MessageID) Task {
	return Task{Kind: KindRemoveFromStash, Program: program, MessageID: msg}
}

// RemoveReservationTask expires an unused gas reservation (program,
// reservation) (SPEC_FULL.md §4.8).
func RemoveReservationTask(program common.ActorID, reservation common.ReservationID) Task {
	return Task{Kind: KindRemoveReservation, Program: program, ReservationID: reservation}
}

// MarshalBinary encodes t as a kind byte followed by the union of
// fields relevant to that kind, in the fixed order Program, User,
// MessageID, ReservationID (fields irrelevant to Kind are omitted, not
// zero-filled, so the encoding stays minimal and self-describing per
// kind).
func (t Task) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+32+32)
	buf = append(buf, byte(t.Kind))
	switch t.Kind {
	case KindWakeMessage:
		buf = append(buf, t.Program[:]...)
		buf = append(buf, t.MessageID[:]...)
	case KindRemoveFromMailbox:
		buf = append(buf, t.Program[:]...)
		buf = append(buf, t.User[:]...)
		buf = append(buf, t.MessageID[:]...)
	case KindRemoveFromWaitlist:
		buf = append(buf, t.Program[:]...)
		buf = append(buf, t.MessageID[:]...)
	case KindRemoveFromStash:
		buf = append(buf, t.Program[:]...)
		buf = append(buf, t.MessageID[:]...)
	case KindRemoveReservation:
		buf = append(buf, t.Program[:]...)
		buf = append(buf, t.ReservationID[:]...)
	default:
		return nil, fmt.Errorf("schedule: unknown task kind %d", t.Kind)
	}
	return buf, nil
}

// UnmarshalTask decodes a single task from data starting at off,
// returning the task and the offset just past it.
func UnmarshalTask(data []byte, off int) (Task, int, error) {
	if len(data) < off+1 {
		return Task{}, 0, fmt.Errorf("schedule: truncated task kind")
	}
	kind := Kind(data[off])
	off++

	var t Task
	t.Kind = kind
	switch kind {
	case KindWakeMessage, KindRemoveFromWaitlist:
		if len(data) < off+32+32 {
			return Task{}, 0, fmt.Errorf("schedule: truncated %s task", kind)
		}
		t.Program.SetBytes(data[off : off+32])
		off += 32
		t.MessageID.SetBytes(data[off : off+32])
		off += 32
	case KindRemoveFromMailbox:
		if len(data) < off+32+32+32 {
			return Task{}, 0, fmt.Errorf("schedule: truncated %s task", kind)
		}
		t.Program.SetBytes(data[off : off+32])
		off += 32
		t.User.SetBytes(data[off : off+32])
		off += 32
		t.MessageID.SetBytes(data[off : off+32])
		off += 32
	case KindRemoveFromStash:
		if len(data) < off+32+32 {
			return Task{}, 0, fmt.Errorf("schedule: truncated %s task", kind)
		}
		t.Program.SetBytes(data[off : off+32])
		off += 32
		t.MessageID.SetBytes(data[off : off+32])
		off += 32
	case KindRemoveReservation:
		if len(data) < off+32+32 {
			return Task{}, 0, fmt.Errorf("schedule: truncated %s task", kind)
		}
		t.Program.SetBytes(data[off : off+32])
		off += 32
		t.ReservationID.SetBytes(data[off : off+32])
		off += 32
	default:
		return Task{}, 0, fmt.Errorf("schedule: unknown task kind %d", kind)
	}
	return t, off, nil
}

// marshalBucket encodes an ordered slice of tasks (insertion order,
// the schedule's tie-break rule) as a count followed by concatenated
// task encodings.
func marshalBucket(tasks []Task) ([]byte, error) {
	buf := make([]byte, 4, 4+len(tasks)*65)
	binary.LittleEndian.PutUint32(buf, uint32(len(tasks)))
	for _, t := range tasks {
		enc, err := t.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

// unmarshalBucket is marshalBucket's inverse.
func unmarshalBucket(data []byte) ([]Task, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("schedule: truncated bucket count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	tasks := make([]Task, 0, count)
	for i := 0; i < count; i++ {
		t, next, err := UnmarshalTask(data, off)
		if err != nil {
			return nil, fmt.Errorf("schedule: bucket entry %d: %w", i, err)
		}
		tasks = append(tasks, t)
		off = next
	}
	return tasks, nil
}
