// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package runner

import (
	"fmt"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/gasnode"
	"github.com/probechain/gactor/core/meter"
	"github.com/probechain/gactor/core/msgctx"
	"github.com/probechain/gactor/core/pages"
	"github.com/probechain/gactor/core/queue"
)

// MemoryGrower lets runnerExternalities request actual wasm linear-memory
// growth without importing wazero into this file — runner.go supplies the
// concrete implementation wrapping a given invocation's api.Module.
type MemoryGrower interface {
	// GrowPages grows the instance's linear memory by n pages, reporting
	// whether the host allowed it (false on a host-level memory cap, not
	// on gas exhaustion, which Charge already guards against).
	GrowPages(n uint32) bool
}

// ProgramRegistrar lets CreateProgram eagerly persist a freshly derived
// actor's envelope and code binding. core/queue.Dispatch carries no
// code-id field for msgctx's Send to thread through to the eventual
// init dispatch, so program creation happens synchronously here rather
// than being discovered lazily when the runner later resolves the
// dispatch's destination.
type ProgramRegistrar interface {
	// RegisterProgram persists a fresh, uninitialized ProgramState for
	// actor bound to codeID, unless actor already has one (CreateProgram
	// is not required to be called with a fresh salt every time; a
	// repeat call addressing an already-known actor is a no-op, not an
	// error).
	RegisterProgram(actor common.ActorID, codeID common.CodeID) error
}

// wakeRequest is a buffered Wake call: the schedule it resolves against
// is block-global and owned by the runner, not this invocation, so
// runnerExternalities only records the request and the runner applies it
// once the invocation commits (mirrors msgctx.MessageContext's own
// open-then-drain discipline, spec.md §4.6 Partial failure).
type wakeRequest struct {
	msg   common.MessageID
	delay uint32
}

// runnerExternalities is the concrete core/syscall.Externalities this
// package constructs once per invocation (spec.md §4.6d), wiring a single
// dispatch's message context, gas counter, allocations, and reservation
// map to the host functions core/syscall.Host dispatches to.
//
// Not safe for concurrent use or reuse across invocations, matching
// msgctx.MessageContext's own single-invocation lifetime.
type runnerExternalities struct {
	hasher common.Hasher

	program        common.ActorID
	origin         common.ActorID
	blockHeight    common.BlockNumber
	blockTimestamp uint64

	incoming    *queue.Dispatch
	payload     []byte
	entryIsInit bool

	msgCtx       *msgctx.MessageContext
	gas          *gasnode.Counter
	gasTree      *gasnode.Tree
	gasNodeID    common.MessageID // the gas-node backing this invocation, split from the dispatch's sender at dispatch time
	alloc        *pages.Context
	reservations *queue.ReservationMap
	memory       MemoryGrower
	programs     ProgramRegistrar

	forbidden map[string]bool

	wakes          []wakeRequest
	reservationSeq uint32

	lastErrBuf   []byte
	lastErrValid bool
}

// newRunnerExternalities builds the externalities object for one
// invocation; every field is supplied by the runner's per-dispatch setup
// (spec.md §4.6d), nothing here is discovered lazily.
func newRunnerExternalities(
	hasher common.Hasher,
	program, origin common.ActorID,
	blockHeight common.BlockNumber,
	blockTimestamp uint64,
	incoming *queue.Dispatch,
	payload []byte,
	entryIsInit bool,
	msgCtx *msgctx.MessageContext,
	gas *gasnode.Counter,
	gasTree *gasnode.Tree,
	gasNodeID common.MessageID,
	alloc *pages.Context,
	reservations *queue.ReservationMap,
	memory MemoryGrower,
	programs ProgramRegistrar,
	forbidden map[string]bool,
) *runnerExternalities {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	return &runnerExternalities{
		hasher:         hasher,
		program:        program,
		origin:         origin,
		blockHeight:    blockHeight,
		blockTimestamp: blockTimestamp,
		incoming:       incoming,
		payload:        payload,
		entryIsInit:    entryIsInit,
		msgCtx:         msgCtx,
		gas:            gas,
		gasTree:        gasTree,
		gasNodeID:      gasNodeID,
		alloc:          alloc,
		reservations:   reservations,
		memory:         memory,
		programs:       programs,
		forbidden:      forbidden,
	}
}

// --- Messaging -------------------------------------------------------------

func (e *runnerExternalities) Send(dest common.ActorID, payload []byte, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.MessageID, error) {
	return e.msgCtx.Send(dest, payload, value, gasLimit, delay)
}

func (e *runnerExternalities) SendInit() (msgctx.Handle, error) {
	return e.msgCtx.Init()
}

func (e *runnerExternalities) SendPush(handle msgctx.Handle, payload []byte) error {
	return e.msgCtx.Push(handle, payload)
}

func (e *runnerExternalities) SendCommit(handle msgctx.Handle, dest common.ActorID, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.MessageID, error) {
	return e.msgCtx.Commit(handle, dest, value, gasLimit, delay)
}

func (e *runnerExternalities) Reply(payload []byte, value common.Value128, gasLimit *common.Gas) (common.MessageID, error) {
	if err := e.msgCtx.ReplyPush(payload); err != nil {
		return common.MessageID{}, err
	}
	return e.msgCtx.ReplyCommit(value, gasLimit)
}

func (e *runnerExternalities) ReplyPush(payload []byte) error {
	return e.msgCtx.ReplyPush(payload)
}

func (e *runnerExternalities) ReplyCommit(value common.Value128, gasLimit *common.Gas) (common.MessageID, error) {
	return e.msgCtx.ReplyCommit(value, gasLimit)
}

// CreateProgram derives the new actor's id deterministically from the
// creating program, the code it is instantiated from, and the guest's
// salt (spec.md §4.4), registers it immediately (so the runner finds an
// Active, bound-to-codeID program already waiting the first time it
// resolves a dispatch addressed to it), then queues its init dispatch
// the same way Send does.
func (e *runnerExternalities) CreateProgram(codeID common.CodeID, salt, payload []byte, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.ActorID, common.MessageID, error) {
	buf := make([]byte, 0, common.IDLength*2+len(salt))
	buf = append(buf, e.program.Bytes()...)
	buf = append(buf, codeID.Bytes()...)
	buf = append(buf, salt...)
	actor := common.ActorID(e.hasher.Hash(buf))

	if e.programs != nil {
		if err := e.programs.RegisterProgram(actor, codeID); err != nil {
			return common.ActorID{}, common.MessageID{}, err
		}
	}

	msgID, err := e.msgCtx.Send(actor, payload, value, gasLimit, delay)
	if err != nil {
		return common.ActorID{}, common.MessageID{}, err
	}
	// msgctx builds every send as KindHandle; the dispatch just committed
	// is the new program's init message.
	if outgoing, _ := e.msgCtx.Drain(); len(outgoing) > 0 && outgoing[len(outgoing)-1].MessageID == msgID {
		outgoing[len(outgoing)-1].Kind = queue.KindInit
	}
	return actor, msgID, nil
}

// ReservationSend passes reservation's remaining balance to Send as the
// message's gas limit (there is no separate gasLimit parameter, unlike
// Send/SendCommit) and then consumes the reservation. The outgoing
// message is funded like any other send, by the runner's split from this
// invocation's gas node; the reservation's own gas-tree node is consumed
// and its balance discarded.
func (e *runnerExternalities) ReservationSend(reservation common.ReservationID, dest common.ActorID, payload []byte, value common.Value128, delay *uint32) (common.MessageID, error) {
	entry, ok := e.reservations.Get(reservation)
	if !ok {
		return common.MessageID{}, fmt.Errorf("runner: unknown reservation %s", reservation)
	}
	amount := entry.Amount
	id, err := e.msgCtx.Send(dest, payload, value, &amount, delay)
	if err != nil {
		return common.MessageID{}, err
	}
	e.consumeReservation(reservation)
	return id, nil
}

func (e *runnerExternalities) ReservationReply(reservation common.ReservationID, payload []byte, value common.Value128) (common.MessageID, error) {
	entry, ok := e.reservations.Get(reservation)
	if !ok {
		return common.MessageID{}, fmt.Errorf("runner: unknown reservation %s", reservation)
	}
	if err := e.msgCtx.ReplyPush(payload); err != nil {
		return common.MessageID{}, err
	}
	amount := entry.Amount
	id, err := e.msgCtx.ReplyCommit(value, &amount)
	if err != nil {
		return common.MessageID{}, err
	}
	e.consumeReservation(reservation)
	return id, nil
}

// consumeReservation removes reservation from the program's map and its
// backing gas-tree leaf. The leaf's whole balance is discarded: a
// reservation's balance is only recoverable via an explicit
// unreserve_gas before reservation_send or reservation_reply consumes it.
func (e *runnerExternalities) consumeReservation(reservation common.ReservationID) {
	e.reservations.Remove(reservation)
	_, _ = e.gasTree.Consume(common.MessageID(reservation))
}

// --- Introspection -----------------------------------------------------------

func (e *runnerExternalities) Source() common.ActorID  { return e.incoming.Source }
func (e *runnerExternalities) ProgramID() common.ActorID { return e.program }
func (e *runnerExternalities) MessageID() common.MessageID {
	return e.incoming.MessageID
}
func (e *runnerExternalities) Origin() common.ActorID       { return e.origin }
func (e *runnerExternalities) Value() common.Value128       { return e.incoming.Value }
func (e *runnerExternalities) ValueAvailable() common.Value128 { return e.incoming.Value }
func (e *runnerExternalities) PayloadSize() uint32          { return uint32(len(e.payload)) }

func (e *runnerExternalities) ReadPayload(offset, length uint32) ([]byte, bool) {
	if uint64(offset)+uint64(length) > uint64(len(e.payload)) {
		return nil, false
	}
	return e.payload[offset : offset+length], true
}

func (e *runnerExternalities) BlockHeight() common.BlockNumber { return e.blockHeight }
func (e *runnerExternalities) BlockTimestamp() uint64           { return e.blockTimestamp }
func (e *runnerExternalities) GasAvailable() common.Gas         { return e.gas.Left() }

// EnvVar serves a small closed set of versioned environment records; only
// version 1 (the block height/timestamp pair, the only environment data
// spec.md §4.4 names) is currently defined.
func (e *runnerExternalities) EnvVar(version uint32) ([]byte, bool) {
	if version != 1 {
		return nil, false
	}
	buf := make([]byte, 12)
	for i := 0; i < 4; i++ {
		buf[i] = byte(e.blockHeight >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[4+i] = byte(e.blockTimestamp >> (8 * i))
	}
	return buf, true
}

// Random derives a deterministic pseudo-random hash from the current
// invocation's identity and the guest-supplied subject, returning the
// block height it is anchored to alongside it so the guest can reason
// about how stale the entropy is (spec.md §4.4: deterministic execution
// forbids any real entropy source).
func (e *runnerExternalities) Random(subject []byte) (common.BlockNumber, common.Hash) {
	buf := make([]byte, 0, common.IDLength*2+len(subject)+4)
	buf = append(buf, e.program.Bytes()...)
	buf = append(buf, e.incoming.MessageID.Bytes()...)
	buf = append(buf, subject...)
	var h [4]byte
	for i := 0; i < 4; i++ {
		h[i] = byte(e.blockHeight >> (8 * i))
	}
	buf = append(buf, h[:]...)
	return e.blockHeight, e.hasher.Hash(buf)
}

// --- Memory ------------------------------------------------------------------

func (e *runnerExternalities) AllocPages(n uint32) (uint32, error) {
	grow := func(additional uint32) error {
		if err := e.Charge(common.Gas(additional) * meter.MemoryGrowSurchargePerPage); err != nil {
			return err
		}
		if e.memory != nil && !e.memory.GrowPages(additional) {
			return fmt.Errorf("runner: wasm linear memory grow rejected")
		}
		return nil
	}
	idx, err := e.alloc.Alloc(n, grow)
	if err != nil {
		return 0, err
	}
	return uint32(idx), nil
}

func (e *runnerExternalities) FreePage(page uint32) error {
	return e.alloc.Free(pages.Index(page))
}

func (e *runnerExternalities) FreePageRange(lo, hi uint32) error {
	return e.alloc.FreeRange(pages.Index(lo), pages.Index(hi))
}

// --- Control -------------------------------------------------------------
//
// Wait, WaitFor, WaitUpTo, Exit, Leave, Panic and OOMPanic return a
// sentinel error that core/syscall/control.go traps with unconditionally:
// termination.classifyTrap recovers the resulting core/syscall.Trap and
// reads the signal back out of it. None of these seven ever returns nil;
// Wake, ReplyDeposit, ReserveGas and UnreserveGas below return ordinary
// results.

func (e *runnerExternalities) Wait() error {
	return waitSignal{}
}

func (e *runnerExternalities) WaitFor(duration uint32) error {
	d := duration
	return waitSignal{duration: &d}
}

func (e *runnerExternalities) WaitUpTo(duration uint32) error {
	d := duration
	return waitSignal{duration: &d, upTo: true}
}

func (e *runnerExternalities) Exit(inheritor common.ActorID) error {
	return exitSignal{inheritor: inheritor}
}

func (e *runnerExternalities) Leave() error {
	return errLeave
}

func (e *runnerExternalities) Panic(payload []byte) error {
	return panicSignal{payload: payload}
}

func (e *runnerExternalities) OOMPanic() error {
	return errOOM
}

// Wake is fallible-but-returning (unlike Wait/Exit/Leave/Panic): the
// guest observes whether the wake request was accepted, but execution
// continues. The actual waitlist mutation happens once the invocation
// commits, against the block-global schedule the runner owns.
func (e *runnerExternalities) Wake(msg common.MessageID, delay uint32) error {
	e.wakes = append(e.wakes, wakeRequest{msg: msg, delay: delay})
	return nil
}

// ReplyDeposit earmarks amount for whoever eventually replies to msg by
// cutting a funded gas-tree leaf keyed by msg's own id from this
// invocation's node (gasnode.Tree.Cut: a reserved, never-returned-upward
// balance, matching a deposit that is either spent by the reply or
// stranded, never refunded to the depositor).
func (e *runnerExternalities) ReplyDeposit(msg common.MessageID, amount common.Gas) error {
	return e.gasTree.Cut(e.gasNodeID, msg, amount)
}

// ReserveGas cuts a reserved leaf from this invocation's gas node and
// records its expiry in the program's reservation map; the runner
// schedules a RemoveReservation task for blockHeight+duration so an
// unspent reservation is reclaimed automatically (SPEC_FULL.md §4.8).
func (e *runnerExternalities) ReserveGas(amount common.Gas, duration uint32) (common.ReservationID, error) {
	buf := make([]byte, 0, common.IDLength*2+4)
	buf = append(buf, e.program.Bytes()...)
	buf = append(buf, e.incoming.MessageID.Bytes()...)
	var seq [4]byte
	for i := 0; i < 4; i++ {
		seq[i] = byte(e.reservationSeq >> (8 * i))
	}
	e.reservationSeq++
	buf = append(buf, seq[:]...)
	id := common.ReservationID(e.hasher.Hash(buf))

	if err := e.gasTree.Cut(e.gasNodeID, common.MessageID(id), amount); err != nil {
		return common.ReservationID{}, err
	}
	entry := queue.ReservationEntry{Amount: amount, Expiry: e.blockHeight + common.BlockNumber(duration)}
	if err := e.reservations.Insert(id, entry); err != nil {
		return common.ReservationID{}, err
	}
	return id, nil
}

// UnreserveGas reclaims an outstanding reservation's unspent balance back
// into this invocation's own gas counter.
func (e *runnerExternalities) UnreserveGas(id common.ReservationID) error {
	if _, ok := e.reservations.Remove(id); !ok {
		return fmt.Errorf("runner: unknown reservation %s", id)
	}
	imbalance, err := e.gasTree.Consume(common.MessageID(id))
	if err != nil {
		return err
	}
	if imbalance < 0 {
		e.gas.Refund(common.Gas(-imbalance))
	}
	return nil
}

// Charge debits amount from the invocation's own counter, failing with
// errGasLimitExceeded (a fatal trap, per spec.md §4.7) once exhausted.
func (e *runnerExternalities) Charge(amount common.Gas) error {
	if e.gas.Charge(amount) == gasnode.NotEnough {
		return errGasLimitExceeded
	}
	return nil
}

// --- Last-error buffer / policy ---------------------------------------------

// SetLastError records err's reply code as a 4-byte little-endian
// queue.ReplyCode and returns its length, the value core/syscall's
// writeErrorLen convention uses directly as a syscall's return value.
func (e *runnerExternalities) SetLastError(err error) uint32 {
	code := replyCodeFor(err)
	buf := make([]byte, 4)
	buf[0] = byte(code)
	buf[1] = byte(code >> 8)
	buf[2] = byte(code >> 16)
	buf[3] = byte(code >> 24)
	e.lastErrBuf = buf
	e.lastErrValid = true
	return uint32(len(buf))
}

func (e *runnerExternalities) ClearLastError() {
	e.lastErrBuf = nil
	e.lastErrValid = false
}

func (e *runnerExternalities) LastError() ([]byte, bool) {
	return e.lastErrBuf, e.lastErrValid
}

func (e *runnerExternalities) Forbidden(name string) bool {
	return e.forbidden[name]
}

// replyCodeFor maps a syscall-level failure onto the reply code a source
// actor would see if this invocation ultimately traps without producing
// its own reply (core/runner's reconciliation step uses the same mapping
// for that case; here it backs the error() syscall's introspection
// value instead).
func replyCodeFor(err error) queue.ReplyCode {
	if err == nil {
		return queue.ReplySuccess
	}
	if err == errGasLimitExceeded {
		return queue.ReplyErrorOutOfGas
	}
	return queue.ReplyErrorExecutionFailed
}
