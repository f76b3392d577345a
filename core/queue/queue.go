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
	"fmt"

	"github.com/probechain/gactor/common"
)

// Queue is spec.md §3's ordered sequence of dispatches: the global
// message queue the runner drains one dispatch at a time (spec.md
// §4.6/§5 — within a block, processing order equals queue order).
//
// Not safe for concurrent use; spec.md §5 assigns it to the runner
// alone.
type Queue struct {
	items []*Dispatch
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// PushBack appends d to the tail, the ordinary enqueue path for newly
// sent messages (spec.md §5: outgoing messages are appended in
// send-call order).
func (q *Queue) PushBack(d *Dispatch) {
	q.items = append(q.items, d)
}

// PushFront re-enqueues d at the head, used when a GasAllowanceExceeded
// dispatch must be retried first in the next block and for scheduled
// wakes that spec.md §4.6.1 prefers at the head for fairness with fresh
// messages.
func (q *Queue) PushFront(d *Dispatch) {
	q.items = append([]*Dispatch{d}, q.items...)
}

// PopFront removes and returns the head dispatch, or (nil, false) if the
// queue is empty.
func (q *Queue) PopFront() (*Dispatch, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// Len reports the number of dispatches currently queued.
func (q *Queue) Len() int { return len(q.items) }

// IsEmpty reports whether the queue has no dispatches.
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }

// MarshalBinary encodes the queue as an entry count followed by the
// dispatches in queue order (no sorting — unlike the keyed entities
// below, order here is already canonical). ProgramState.QueueHash is
// this encoding's hash; no operation in this core ever populates a
// program's local queue, so in practice it is always the hash of zero
// entries, reserved for an embedder that stashes a per-program view of
// in-flight dispatches here.
func (q *Queue) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4, 4+len(q.items)*64)
	binary.LittleEndian.PutUint32(buf, uint32(len(q.items)))
	for _, d := range q.items {
		enc, err := d.MarshalBinary()
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
func (q *Queue) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("queue: truncated queue count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	items := make([]*Dispatch, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < off+4 {
			return fmt.Errorf("queue: truncated queue entry length %d", i)
		}
		length := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+length {
			return fmt.Errorf("queue: truncated queue entry %d", i)
		}
		var d Dispatch
		if err := d.UnmarshalBinary(data[off : off+length]); err != nil {
			return err
		}
		off += length
		items = append(items, &d)
	}
	q.items = items
	return nil
}

// Hash returns the content hash of the queue's canonical encoding.
func (q *Queue) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := q.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
