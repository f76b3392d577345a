// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package msgctx implements spec.md §4.5's per-invocation message
// context: the incoming message view, deterministic outgoing message id
// generation, streamed-packet construction (init/push/commit), the
// one-shot send/reply_push/reply_commit forms, and the drain step the
// runner consumes at the end of a successful invocation.
//
// Packets are tracked open-then-committed the way
// teacher_state_ref/journal.go tracks state modifications as reversible
// entries: an invocation's outgoing work accumulates in a buffer that
// either drains in full on success or is discarded whole on a trap
// (spec.md §4.6 Partial failure), never partially.
package msgctx

import (
	"errors"
	"fmt"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/queue"
	"github.com/probechain/gactor/gasdb"
)

var (
	// ErrOutgoingLimitExceeded is returned by Init/Send when the
	// invocation's configured outgoing-packet limit is already reached
	// (spec.md §4.5 Invariants, §5 Backpressure). The reply does not
	// count toward the limit.
	ErrOutgoingLimitExceeded = errors.New("msgctx: outgoing packet limit exceeded")
	// ErrPayloadTooLong is returned when a push would grow a packet's
	// payload past the configured length limit.
	ErrPayloadTooLong = errors.New("msgctx: payload exceeds configured length limit")
	// ErrUnknownHandle is returned by Push/Commit for a handle that was
	// never opened or has already been committed.
	ErrUnknownHandle = errors.New("msgctx: unknown or already-committed handle")
	// ErrAlreadyReplied is returned by ReplyPush/ReplyCommit once a
	// reply has already been committed for this invocation (spec.md
	// §4.5: "at most one reply per invocation").
	ErrAlreadyReplied = errors.New("msgctx: invocation already replied")
)

// Handle identifies an open, not-yet-committed streamed outgoing
// packet.
type Handle uint32

// Limits bounds a single invocation's outgoing work (spec.md §4.5
// Invariants, §5 Backpressure: an outgoing-messages-per-invocation limit
// prevents a single invocation from flooding the queue).
type Limits struct {
	MaxOutgoing   int
	MaxPayloadLen int
}

// GasLimit is an optional per-message gas limit, matching spec.md §4.4's
// `[gas_limit]` optional syscall parameter. Commit, Send and ReplyCommit
// accept it but do not record it on the dispatch they build, so a nil
// and a non-nil limit produce the same dispatch.
type GasLimit = *common.Gas

// Delay is an optional number of blocks, matching spec.md §4.4's
// `[delay]` optional syscall parameter. Commit and Send accept it but do
// not use it: a delayed send is committed and drained exactly like an
// undelayed one.
type Delay = *uint32

// packet is a streamed outgoing message under construction.
type packet struct {
	payload []byte
}

// MessageContext is spec.md §4.5's per-invocation structure.
//
// Not safe for concurrent use; one MessageContext exists per invocation,
// used only by the runner and the syscall handlers it drives (spec.md
// §5: single-threaded, cooperative execution).
type MessageContext struct {
	programID common.ActorID
	incoming  *queue.Dispatch
	nonce     uint64
	limits    Limits
	cas       gasdb.CASStore

	nextHandle Handle
	open       map[Handle]*packet
	committed  []*queue.Dispatch

	replyPacket    *packet
	replyCommitted *queue.Dispatch
}

// New returns a MessageContext seeded with incoming and the program's
// current nonce (spec.md §4.6.d: "an empty message context seeded with
// the incoming dispatch and the program's current message nonce").
func New(programID common.ActorID, startingNonce uint64, incoming *queue.Dispatch, limits Limits, cas gasdb.CASStore) *MessageContext {
	return &MessageContext{
		programID: programID,
		incoming:  incoming,
		nonce:     startingNonce,
		limits:    limits,
		cas:       cas,
		open:      make(map[Handle]*packet),
	}
}

// Incoming returns the invocation's immutable incoming dispatch view.
func (c *MessageContext) Incoming() *queue.Dispatch { return c.incoming }

// Nonce returns the next nonce that will be consumed by a commit, for
// callers that need to persist it back into the program's envelope
// between invocations.
func (c *MessageContext) Nonce() uint64 { return c.nonce }

func (c *MessageContext) outgoingCount() int {
	return len(c.committed) + len(c.open)
}

// nextMessageID derives the deterministic id for the next commit: a
// hash of (program_id, nonce), per spec.md §4.5.
func (c *MessageContext) nextMessageID(hasher common.Hasher) common.MessageID {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	buf := make([]byte, 0, common.IDLength+8)
	buf = append(buf, c.programID[:]...)
	var nonce [8]byte
	for i := 0; i < 8; i++ {
		nonce[i] = byte(c.nonce >> (8 * i))
	}
	buf = append(buf, nonce[:]...)
	h := hasher.Hash(buf)
	c.nonce++
	return common.MessageID(h)
}

// Init opens a new streamed outgoing packet, failing with
// ErrOutgoingLimitExceeded if the invocation's outgoing limit is
// already reached.
func (c *MessageContext) Init() (Handle, error) {
	if c.limits.MaxOutgoing > 0 && c.outgoingCount() >= c.limits.MaxOutgoing {
		return 0, ErrOutgoingLimitExceeded
	}
	h := c.nextHandle
	c.nextHandle++
	c.open[h] = &packet{}
	return h, nil
}

// Push appends bytes to handle's open packet, failing with
// ErrUnknownHandle if handle is not open and ErrPayloadTooLong if the
// append would exceed the configured payload length limit.
func (c *MessageContext) Push(handle Handle, data []byte) error {
	p, ok := c.open[handle]
	if !ok {
		return ErrUnknownHandle
	}
	if c.limits.MaxPayloadLen > 0 && len(p.payload)+len(data) > c.limits.MaxPayloadLen {
		return ErrPayloadTooLong
	}
	p.payload = append(p.payload, data...)
	return nil
}

// Commit finalizes handle's packet into a dispatch addressed to dest
// and moves it to the committed buffer, generating its message id at
// commit time (spec.md §4.5).
func (c *MessageContext) Commit(handle Handle, dest common.ActorID, value common.Value128, gas GasLimit, delay Delay) (common.MessageID, error) {
	p, ok := c.open[handle]
	if !ok {
		return common.MessageID{}, ErrUnknownHandle
	}
	delete(c.open, handle)
	id, d, err := c.buildDispatch(dest, p.payload, value)
	if err != nil {
		return common.MessageID{}, err
	}
	c.committed = append(c.committed, d)
	return id, nil
}

// Send is the one-shot equivalent of Init+Push+Commit.
func (c *MessageContext) Send(dest common.ActorID, payload []byte, value common.Value128, gas GasLimit, delay Delay) (common.MessageID, error) {
	if c.limits.MaxOutgoing > 0 && c.outgoingCount() >= c.limits.MaxOutgoing {
		return common.MessageID{}, ErrOutgoingLimitExceeded
	}
	if c.limits.MaxPayloadLen > 0 && len(payload) > c.limits.MaxPayloadLen {
		return common.MessageID{}, ErrPayloadTooLong
	}
	id, d, err := c.buildDispatch(dest, payload, value)
	if err != nil {
		return common.MessageID{}, err
	}
	c.committed = append(c.committed, d)
	return id, nil
}

func (c *MessageContext) buildDispatch(dest common.ActorID, payload []byte, value common.Value128) (common.MessageID, *queue.Dispatch, error) {
	lookup, err := queue.NewPayloadLookup(payload, c.cas)
	if err != nil {
		return common.MessageID{}, nil, err
	}
	id := c.nextMessageID(nil)
	d := &queue.Dispatch{
		MessageID:   id,
		Kind:        queue.KindHandle,
		Source:      c.programID,
		Destination: dest,
		Value:       value,
		Payload:     lookup,
	}
	return id, d, nil
}

// ReplyPush appends bytes to the invocation's single allowed reply,
// opening it on first use. Fails with ErrAlreadyReplied once ReplyCommit
// has already run.
func (c *MessageContext) ReplyPush(data []byte) error {
	if c.replyCommitted != nil {
		return ErrAlreadyReplied
	}
	if c.replyPacket == nil {
		c.replyPacket = &packet{}
	}
	if c.limits.MaxPayloadLen > 0 && len(c.replyPacket.payload)+len(data) > c.limits.MaxPayloadLen {
		return ErrPayloadTooLong
	}
	c.replyPacket.payload = append(c.replyPacket.payload, data...)
	return nil
}

// ReplyCommit finalizes the invocation's reply, addressed back to the
// incoming dispatch's source, annotated with ReplyDetails naming the
// message it replies to. Fails with ErrAlreadyReplied if already
// committed once (spec.md §4.5: "replying more than once fails").
func (c *MessageContext) ReplyCommit(value common.Value128, gas GasLimit) (common.MessageID, error) {
	if c.replyCommitted != nil {
		return common.MessageID{}, ErrAlreadyReplied
	}
	var payload []byte
	if c.replyPacket != nil {
		payload = c.replyPacket.payload
	}
	lookup, err := queue.NewPayloadLookup(payload, c.cas)
	if err != nil {
		return common.MessageID{}, err
	}
	id := c.nextMessageID(nil)
	d := &queue.Dispatch{
		MessageID:   id,
		Kind:        queue.KindReply,
		Source:      c.programID,
		Destination: c.incoming.Source,
		Value:       value,
		Payload:     lookup,
		ReplyDetails: &queue.ReplyDetails{
			RepliedTo: c.incoming.MessageID,
			Code:      queue.ReplySuccess,
		},
	}
	c.replyCommitted = d
	return id, nil
}

// Drain returns the invocation's committed outgoing dispatches and its
// reply (nil if none was committed), consumed once at the end of a
// successful invocation (spec.md §4.5).
func (c *MessageContext) Drain() (outgoing []*queue.Dispatch, reply *queue.Dispatch) {
	return c.committed, c.replyCommitted
}

// String aids test failure output and debug logging.
func (h Handle) String() string { return fmt.Sprintf("handle(%d)", uint32(h)) }
