// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package runner

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/gasnode"
	"github.com/probechain/gactor/core/meter"
	"github.com/probechain/gactor/core/msgctx"
	"github.com/probechain/gactor/core/pages"
	"github.com/probechain/gactor/core/queue"
	"github.com/probechain/gactor/core/schedule"
	"github.com/probechain/gactor/core/state"
	"github.com/probechain/gactor/core/syscall"
	"github.com/probechain/gactor/gasconf"
)

// compiledKey identifies one (instrumentation_version, code_id) compiled
// wazero module in Runner's in-process cache.
type compiledKey struct {
	version uint32
	codeID  common.CodeID
}

// Runner drives spec.md §4.6's per-block loop: draining the schedule and
// global message queue, instrumenting and executing program code inside
// wazero, and reconciling each invocation's effects into persisted
// program state.
//
// The gas-node forest lives only in memory for the Runner's lifetime — it
// is rebuilt fresh every process start rather than persisted, the same
// simplification core/gasnode's own package doc describes the teacher's
// register-VM gas counter as scaled up from: a single block-producing
// process owns it exclusively (spec.md §5), so there is nothing for a
// second process to disagree about.
//
// Not safe for concurrent use; spec.md §5 assigns one Runner to the block
// producer alone.
type Runner struct {
	store    *ProgramStore
	schedule *schedule.Schedule
	gasTree  *gasnode.Tree
	hasher   common.Hasher

	runtime    wazero.Runtime
	hostModule api.Module
	compiled   map[compiledKey]wazero.CompiledModule

	limits                 msgctx.Limits
	instrumentationVersion uint32
	meterOpts              meter.Options
	forbidden              map[string]bool
	reservationMaxDuration uint32
}

// NewRunner wires a Runner over store/sched, registering spec.md §4.4's
// host function ABI (core/syscall.Host) against rt once.
func NewRunner(ctx context.Context, cfg *gasconf.Config, store *ProgramStore, sched *schedule.Schedule, rt wazero.Runtime) (*Runner, error) {
	host, err := syscall.NewHost(rt).Register().Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: instantiating host module: %w", err)
	}
	return &Runner{
		store:                  store,
		schedule:               sched,
		gasTree:                gasnode.NewTree(),
		hasher:                 store.Hasher(),
		runtime:                rt,
		hostModule:             host,
		compiled:               make(map[compiledKey]wazero.CompiledModule),
		limits:                 msgctx.Limits{MaxOutgoing: cfg.MaxOutgoingPerInvocation, MaxPayloadLen: cfg.MaxPayloadLen},
		instrumentationVersion: cfg.InstrumentationVersion,
		meterOpts:              meter.DefaultOptions(),
		forbidden:              make(map[string]bool),
		reservationMaxDuration: cfg.ReservationMaxDuration,
	}, nil
}

// Close releases the long-lived host module and wasm runtime.
func (r *Runner) Close(ctx context.Context) error {
	if err := r.hostModule.Close(ctx); err != nil {
		return err
	}
	return r.runtime.Close(ctx)
}

// Forbid disables name for every subsequent invocation (spec.md §4.4's
// "an embedder may disable any named syscall").
func (r *Runner) Forbid(name string) { r.forbidden[name] = true }

// InjectedMessage is an externally-originated dispatch entering the
// queue at the start of a block (spec.md §4.6's injected_events), funded
// with its own gas-tree root rather than split from a sender's node.
type InjectedMessage struct {
	Dispatch *queue.Dispatch
	GasLimit common.Gas
}

// BlockInput is spec.md §6's per-block driver input.
type BlockInput struct {
	Number       common.BlockNumber
	Timestamp    uint64
	GasAllowance common.Gas
	Injected     []InjectedMessage
}

// Outcome records one dispatch's terminal processing result within a
// block.
type Outcome struct {
	MessageID common.MessageID
	Program   common.ActorID
	Reason    TerminationReason
	GasBurned common.Gas
}

// BlockOutput is spec.md §6's per-block driver output; new program
// states and the updated schedule are side effects on ProgramStore and
// Schedule rather than returned values.
type BlockOutput struct {
	Outcomes []Outcome
	GasUsed  common.Gas
}

// RunBlock executes spec.md §4.6's per-block loop once: drain tasks due
// at in.Number, admit injected messages, then process the global queue
// head-first until it empties or the block gas allowance is exhausted.
func (r *Runner) RunBlock(ctx context.Context, in BlockInput) (*BlockOutput, error) {
	tasks, err := r.schedule.TasksAt(in.Number)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := r.applyTask(t); err != nil {
			return nil, err
		}
	}
	if err := r.schedule.Clear(in.Number); err != nil {
		return nil, err
	}

	q, err := r.store.LoadQueue()
	if err != nil {
		return nil, err
	}
	for _, inj := range in.Injected {
		if !r.gasTree.Exists(inj.Dispatch.MessageID) {
			if err := r.gasTree.Create(inj.Dispatch.Source, inj.Dispatch.MessageID, inj.GasLimit); err != nil {
				return nil, err
			}
		}
		q.PushBack(inj.Dispatch)
	}

	var outcomes []Outcome
	var gasUsed common.Gas
	remaining := int64(in.GasAllowance)

	for {
		d, ok := q.PopFront()
		if !ok {
			break
		}
		if remaining <= 0 {
			q.PushFront(d)
			outcomes = append(outcomes, Outcome{
				MessageID: d.MessageID,
				Program:   d.Destination,
				Reason:    TerminationReason{Kind: ReasonGasAllowanceExceeded},
			})
			break
		}

		outcome, err := r.processDispatch(ctx, in, q, d)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
		gasUsed += outcome.GasBurned
		remaining -= int64(outcome.GasBurned)
	}

	if err := r.store.SaveQueue(q); err != nil {
		return nil, err
	}
	return &BlockOutput{Outcomes: outcomes, GasUsed: gasUsed}, nil
}

// processDispatch resolves d's destination, selects and runs its entry
// point inside wazero, and reconciles the result (spec.md §4.6 steps
// b-d).
func (r *Runner) processDispatch(ctx context.Context, in BlockInput, q *queue.Queue, d *queue.Dispatch) (Outcome, error) {
	st, ok, err := r.store.LoadProgramState(d.Destination)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return r.shortCircuit(q, d, queue.ReplyErrorUnsupportedMessage)
	}
	if !st.IsActive() {
		if !d.Value.IsZero() {
			if inh, iok, ierr := r.store.LoadProgramState(st.Inheritor); ierr == nil && iok {
				inh.ReducibleBalance = inh.ReducibleBalance.Add(d.Value)
				if err := r.store.SaveProgramState(st.Inheritor, inh); err != nil {
					return Outcome{}, err
				}
			}
		}
		return r.shortCircuit(q, d, queue.ReplyErrorInactiveActor)
	}

	entryName, entryIsInit, unsupported := selectEntry(st, d)
	if unsupported {
		return r.shortCircuit(q, d, queue.ReplyErrorUnsupportedMessage)
	}

	codeID, ok, err := r.store.CodeIDFor(d.Destination)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("runner: program %s has no code binding", d.Destination)
	}
	cm, ok, err := r.store.CodeMetadataFor(codeID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("runner: code %s has no metadata", codeID)
	}

	instrumented, err := r.instrumentedFor(codeID)
	if err != nil {
		return Outcome{}, err
	}
	compiled, err := r.compiledFor(ctx, r.instrumentationVersion, codeID, instrumented)
	if err != nil {
		return Outcome{}, err
	}

	alloc, err := r.store.LoadAllocations(st.AllocationsHash, cm.StaticPages, cm.MaxPages)
	if err != nil {
		return Outcome{}, err
	}
	pm, err := r.store.LoadPageMap(d.Destination)
	if err != nil {
		return Outcome{}, err
	}
	reservations, err := r.store.LoadReservations(d.Destination)
	if err != nil {
		return Outcome{}, err
	}
	reservationsBefore := reservations.Entries()

	payload, err := d.Payload.Resolve(r.store.CAS())
	if err != nil {
		return Outcome{}, err
	}

	if !r.gasTree.Exists(d.MessageID) {
		// A dispatch reaching here with no pre-funded node (a hand-crafted
		// injected message, or a dispatch queued or waitlisted by an
		// earlier process, since the gas tree is not persisted) is treated
		// as zero-funded rather than aborting the block.
		if err := r.gasTree.Create(d.Source, d.MessageID, 0); err != nil {
			return Outcome{}, err
		}
	}
	limit, err := r.gasTree.EffectiveBalance(d.MessageID)
	if err != nil {
		return Outcome{}, err
	}

	startingNonce := binary.LittleEndian.Uint64(d.MessageID[:8])
	msgCtx := msgctx.New(d.Destination, startingNonce, d, r.limits, r.store.CAS())
	gas := gasnode.NewCounter(limit)

	mod, err := r.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		return Outcome{}, err
	}
	defer mod.Close(ctx)

	if err := restoreMemory(alloc, pm, mod, r.store); err != nil {
		return Outcome{}, err
	}

	ext := newRunnerExternalities(
		r.hasher,
		d.Destination, d.Source, // origin chain is not tracked beyond the immediate sender (see DESIGN.md)
		in.Number, in.Timestamp,
		d, payload, entryIsInit,
		msgCtx, gas, r.gasTree, d.MessageID,
		alloc, reservations,
		memoryGrower{mod}, programRegistrar{r.store},
		r.forbidden,
	)

	fn := mod.ExportedFunction(entryName)
	var reason TerminationReason
	switch {
	case fn != nil:
		if _, callErr := fn.Call(syscall.WithExternalities(ctx, ext)); callErr != nil {
			reason = classifyTrap(callErr)
		} else {
			reason = Success
		}
	case entryName == "handle_reply" || entryName == "handle_signal":
		// Optional export absent: a successful no-op, not a fault.
		reason = Success
	default:
		return Outcome{}, fmt.Errorf("runner: program %s missing required export %q", d.Destination, entryName)
	}

	if err := r.reconcile(q, in.Number, d.Destination, st, pm, reservationsBefore, ext, reason, mod); err != nil {
		return Outcome{}, err
	}

	return Outcome{MessageID: d.MessageID, Program: d.Destination, Reason: reason, GasBurned: gas.Burned()}, nil
}

// shortCircuit handles the three "no execution" cases of spec.md §4.6.b:
// an unknown destination, a resolved-but-inactive destination, or an
// unsupported entry point for the dispatch's kind. A single error reply
// is built and funded the same way a Trap's reply is, unless d is itself
// a reply (which never gets an error reply of its own).
func (r *Runner) shortCircuit(q *queue.Queue, d *queue.Dispatch, code queue.ReplyCode) (Outcome, error) {
	if !r.gasTree.Exists(d.MessageID) {
		return Outcome{MessageID: d.MessageID, Program: d.Destination, Reason: Success}, nil
	}
	if d.Kind != queue.KindReply {
		errReply := buildErrorReply(r.hasher, d.Destination, d, code)
		if err := r.gasTree.Split(d.MessageID, errReply.MessageID); err != nil {
			return Outcome{}, err
		}
		q.PushBack(errReply)
	}
	if _, err := r.gasTree.Consume(d.MessageID); err != nil {
		return Outcome{}, err
	}
	return Outcome{MessageID: d.MessageID, Program: d.Destination, Reason: Success}, nil
}

// selectEntry picks the exported guest function a dispatch invokes,
// per spec.md §4.6.e's tie-break between kind and the program's
// initialized flag.
func selectEntry(st *state.ProgramState, d *queue.Dispatch) (entry string, isInit bool, unsupported bool) {
	if !st.Initialized {
		if d.Kind == queue.KindInit {
			return "init", true, false
		}
		return "", false, true
	}
	switch d.Kind {
	case queue.KindInit:
		return "", false, true // a second init is a duplicate, never valid
	case queue.KindReply:
		return "handle_reply", false, false
	case queue.KindSignal:
		return "handle_signal", false, false
	default:
		return "handle", false, false
	}
}

// reconcile applies one invocation's effects back onto persisted state,
// per spec.md §4.6.f and the fault taxonomy of §4.7.
func (r *Runner) reconcile(
	q *queue.Queue,
	blockHeight common.BlockNumber,
	program common.ActorID,
	st *state.ProgramState,
	pm *state.PageMap,
	reservationsBefore map[common.ReservationID]queue.ReservationEntry,
	ext *runnerExternalities,
	reason TerminationReason,
	mod api.Module,
) error {
	burned := ext.gas.Burned()
	if err := r.gasTree.Spend(ext.gasNodeID, burned); err != nil {
		return err
	}

	switch reason.Kind {
	case ReasonTrap:
		return r.reconcileTrap(q, program, st, ext, reason)
	case ReasonWait:
		return r.reconcileWait(q, blockHeight, program, st, pm, reservationsBefore, ext, reason, mod)
	default: // Success, Exit, Leave
		return r.reconcileCommit(q, blockHeight, program, st, pm, reservationsBefore, ext, reason, mod)
	}
}

// reconcileTrap discards every effect of the invocation except the gas
// already burned and, unless the incoming dispatch was itself a reply,
// a single error reply (spec.md §4.6 Partial failure / §4.7).
func (r *Runner) reconcileTrap(q *queue.Queue, program common.ActorID, st *state.ProgramState, ext *runnerExternalities, reason TerminationReason) error {
	if ext.incoming.Kind != queue.KindReply {
		code := queue.ReplyErrorExecutionFailed
		if reason.Trap.Kind == TrapGasLimitExceeded {
			code = queue.ReplyErrorOutOfGas
		}
		errReply := buildErrorReply(r.hasher, program, ext.incoming, code)
		if err := r.gasTree.Split(ext.gasNodeID, errReply.MessageID); err != nil {
			return err
		}
		q.PushBack(errReply)
	}
	if _, err := r.gasTree.Consume(ext.gasNodeID); err != nil {
		return err
	}
	if ext.entryIsInit {
		if err := st.Terminate(common.ActorID{}); err != nil {
			return err
		}
	}
	return r.store.SaveProgramState(program, st)
}

// reconcileWait persists everything already committed before the wait
// (messages, memory, reservations) but keeps the invocation's gas node
// alive — unconsumed — since the same dispatch is re-funded against it
// on resumption (spec.md §4.6/§4.7: Wait is resumable).
func (r *Runner) reconcileWait(
	q *queue.Queue,
	blockHeight common.BlockNumber,
	program common.ActorID,
	st *state.ProgramState,
	pm *state.PageMap,
	reservationsBefore map[common.ReservationID]queue.ReservationEntry,
	ext *runnerExternalities,
	reason TerminationReason,
	mod api.Module,
) error {
	if err := r.drainMessages(q, ext); err != nil {
		return err
	}
	if err := r.persistAllocAndMemory(program, st, ext.alloc, pm, mod); err != nil {
		return err
	}
	if err := r.persistReservations(program, st, ext.reservations, reservationsBefore, blockHeight); err != nil {
		return err
	}
	if err := r.applyWakes(blockHeight, program, ext.wakes); err != nil {
		return err
	}

	wl, err := r.store.LoadWaitlist(program)
	if err != nil {
		return err
	}
	expiry := common.BlockNumber(math.MaxUint32)
	if reason.Duration != nil {
		expiry = blockHeight + common.BlockNumber(*reason.Duration)
	}
	if err := wl.Insert(ext.incoming.MessageID, ext.incoming, expiry); err != nil {
		return err
	}
	if err := r.store.SaveWaitlist(program, wl); err != nil {
		return err
	}
	wh, err := wl.Hash(r.hasher)
	if err != nil {
		return err
	}
	st.WaitlistHash = wh

	if reason.Duration != nil {
		if err := r.schedule.Insert(expiry, schedule.RemoveFromWaitlistTask(program, ext.incoming.MessageID)); err != nil {
			return err
		}
	}
	return r.store.SaveProgramState(program, st)
}

// reconcileCommit is the success path shared by ReasonSuccess, ReasonExit
// and ReasonLeave: the invocation ran to completion (or an explicit
// early exit/leave) without trapping, so every effect commits and the
// gas node is consumed.
func (r *Runner) reconcileCommit(
	q *queue.Queue,
	blockHeight common.BlockNumber,
	program common.ActorID,
	st *state.ProgramState,
	pm *state.PageMap,
	reservationsBefore map[common.ReservationID]queue.ReservationEntry,
	ext *runnerExternalities,
	reason TerminationReason,
	mod api.Module,
) error {
	if err := r.drainMessages(q, ext); err != nil {
		return err
	}
	if _, err := r.gasTree.Consume(ext.gasNodeID); err != nil {
		return err
	}
	if err := r.persistAllocAndMemory(program, st, ext.alloc, pm, mod); err != nil {
		return err
	}
	if err := r.persistReservations(program, st, ext.reservations, reservationsBefore, blockHeight); err != nil {
		return err
	}
	if err := r.applyWakes(blockHeight, program, ext.wakes); err != nil {
		return err
	}

	switch reason.Kind {
	case ReasonExit:
		if err := st.Exit(reason.Inheritor); err != nil {
			return err
		}
	case ReasonSuccess:
		if ext.entryIsInit {
			if err := st.MarkInitialized(); err != nil {
				return err
			}
		}
	// ReasonLeave: no lifecycle transition, matching an ordinary early
	// return — everything already committed above simply sticks.
	case ReasonLeave:
	}
	return r.store.SaveProgramState(program, st)
}

// drainMessages funds and enqueues every dispatch the invocation
// committed (outgoing sends plus its reply, if any), each as an
// unspecified child split from the invocation's own gas node — the
// "forward all remaining gas" convention spec.md §4.3 describes.
func (r *Runner) drainMessages(q *queue.Queue, ext *runnerExternalities) error {
	outgoing, reply := ext.msgCtx.Drain()
	for _, d := range outgoing {
		if err := r.gasTree.Split(ext.gasNodeID, d.MessageID); err != nil {
			return err
		}
		q.PushBack(d)
	}
	if reply != nil {
		if err := r.gasTree.Split(ext.gasNodeID, reply.MessageID); err != nil {
			return err
		}
		q.PushBack(reply)
	}
	return nil
}

// persistAllocAndMemory writes back an invocation's memory and
// allocation changes, updating st's content-hash links.
func (r *Runner) persistAllocAndMemory(program common.ActorID, st *state.ProgramState, alloc *pages.Context, pm *state.PageMap, mod api.Module) error {
	touched, err := persistMemory(alloc, pm, mod, r.store)
	if err != nil {
		return err
	}
	if err := r.store.SavePageMap(program, pm, touched); err != nil {
		return err
	}
	st.PageMapHash = r.store.PageMapHash(pm)

	ah, err := r.store.SaveAllocations(alloc)
	if err != nil {
		return err
	}
	st.AllocationsHash = ah
	alloc.ClearDirty()
	return nil
}

// persistReservations writes back the program's reservation map and
// schedules expiry for every reservation the invocation newly created.
func (r *Runner) persistReservations(program common.ActorID, st *state.ProgramState, reservations *queue.ReservationMap, before map[common.ReservationID]queue.ReservationEntry, blockHeight common.BlockNumber) error {
	if err := r.store.SaveReservations(program, reservations); err != nil {
		return err
	}
	rh, err := reservations.Hash(r.hasher)
	if err != nil {
		return err
	}
	st.ReservationHash = rh

	after := reservations.Entries()
	for _, id := range newReservations(before, after) {
		entry := after[id]
		if err := r.schedule.Insert(entry.Expiry, schedule.RemoveReservationTask(program, id)); err != nil {
			return err
		}
	}
	return nil
}

// newReservations returns ids present in after but absent from before —
// the reservations an invocation created, net of any created-then-spent
// within the same invocation (those appear in neither snapshot).
func newReservations(before, after map[common.ReservationID]queue.ReservationEntry) []common.ReservationID {
	var ids []common.ReservationID
	for id := range after {
		if _, ok := before[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// applyWakes schedules each buffered Wake request against the invoking
// program's own waitlist — an actor can only wake its own suspended
// executions (spec.md §4.4's wake syscall).
func (r *Runner) applyWakes(blockHeight common.BlockNumber, program common.ActorID, wakes []wakeRequest) error {
	for _, w := range wakes {
		at := blockHeight + common.BlockNumber(w.delay)
		if err := r.schedule.Insert(at, schedule.WakeMessageTask(program, w.msg)); err != nil {
			return err
		}
	}
	return nil
}

// applyTask applies one due scheduled task (spec.md §4.6 step 1).
func (r *Runner) applyTask(t schedule.Task) error {
	switch t.Kind {
	case schedule.KindWakeMessage:
		wl, err := r.store.LoadWaitlist(t.Program)
		if err != nil {
			return err
		}
		entry, found := wl.Remove(t.MessageID)
		if !found {
			return nil
		}
		if err := r.store.SaveWaitlist(t.Program, wl); err != nil {
			return err
		}
		q, err := r.store.LoadQueue()
		if err != nil {
			return err
		}
		q.PushFront(entry.Dispatch)
		return r.store.SaveQueue(q)

	case schedule.KindRemoveFromMailbox:
		mb, err := r.store.LoadMailbox(t.Program)
		if err != nil {
			return err
		}
		if _, found := mb.Remove(t.User, t.MessageID); !found {
			return nil
		}
		return r.store.SaveMailbox(t.Program, mb)

	case schedule.KindRemoveFromWaitlist:
		wl, err := r.store.LoadWaitlist(t.Program)
		if err != nil {
			return err
		}
		entry, found := wl.Remove(t.MessageID)
		if !found {
			return nil
		}
		if err := r.store.SaveWaitlist(t.Program, wl); err != nil {
			return err
		}
		q, err := r.store.LoadQueue()
		if err != nil {
			return err
		}
		errReply := buildErrorReply(r.hasher, t.Program, entry.Dispatch, queue.ReplyErrorRemovedFromWaitlist)
		// The cancelled dispatch's value goes back to its source on the reply.
		errReply.Value = entry.Dispatch.Value
		if r.gasTree.Exists(entry.Dispatch.MessageID) {
			if err := r.gasTree.Split(entry.Dispatch.MessageID, errReply.MessageID); err != nil {
				return err
			}
			if _, err := r.gasTree.Consume(entry.Dispatch.MessageID); err != nil {
				return err
			}
		}
		q.PushBack(errReply)
		return r.store.SaveQueue(q)

	case schedule.KindRemoveFromStash:
		stash, err := r.store.LoadStash(t.Program)
		if err != nil {
			return err
		}
		entry, found := stash.Remove(t.MessageID)
		if !found {
			return nil
		}
		if err := r.store.SaveStash(t.Program, stash); err != nil {
			return err
		}
		if entry.HasUser {
			mb, err := r.store.LoadMailbox(t.Program)
			if err != nil {
				return err
			}
			if err := mb.Insert(entry.Recipient, entry.Dispatch.MessageID, queue.MailboxEntry{Value: entry.Dispatch.Value, Expiry: entry.Expiry}); err != nil {
				return err
			}
			return r.store.SaveMailbox(t.Program, mb)
		}
		q, err := r.store.LoadQueue()
		if err != nil {
			return err
		}
		q.PushBack(entry.Dispatch)
		return r.store.SaveQueue(q)

	case schedule.KindRemoveReservation:
		res, err := r.store.LoadReservations(t.Program)
		if err != nil {
			return err
		}
		if _, found := res.Remove(t.ReservationID); !found {
			return nil
		}
		if err := r.store.SaveReservations(t.Program, res); err != nil {
			return err
		}
		if r.gasTree.Exists(common.MessageID(t.ReservationID)) {
			if _, err := r.gasTree.Consume(common.MessageID(t.ReservationID)); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("runner: unknown task kind %v", t.Kind)
	}
}

// buildErrorReply constructs a reply dispatch addressed back to d's
// source without going through a MessageContext (whose committed/reply
// state is itself being discarded in the cases this is used for).
func buildErrorReply(hasher common.Hasher, program common.ActorID, d *queue.Dispatch, code queue.ReplyCode) *queue.Dispatch {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	buf := make([]byte, 0, common.IDLength*2)
	buf = append(buf, program.Bytes()...)
	buf = append(buf, d.MessageID.Bytes()...)
	id := common.MessageID(hasher.Hash(buf))
	return &queue.Dispatch{
		MessageID:   id,
		Kind:        queue.KindReply,
		Source:      program,
		Destination: d.Source,
		ReplyDetails: &queue.ReplyDetails{
			RepliedTo: d.MessageID,
			Code:      code,
		},
	}
}

// instrumentedFor returns codeID's §4.1-instrumented bytes, running and
// caching the transformation on first use.
func (r *Runner) instrumentedFor(codeID common.CodeID) ([]byte, error) {
	if code, ok, err := r.store.InstrumentedCode(r.instrumentationVersion, codeID); err != nil {
		return nil, err
	} else if ok {
		return code, nil
	}
	original, ok, err := r.store.OriginalCode(codeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("runner: original code %s not found", codeID)
	}
	instrumented, err := meter.Instrument(original, r.meterOpts)
	if err != nil {
		return nil, err
	}
	if err := r.store.StoreInstrumentedCode(r.instrumentationVersion, codeID, instrumented); err != nil {
		return nil, err
	}
	return instrumented, nil
}

// compiledFor returns the cached wazero.CompiledModule for (version,
// codeID), compiling instrumented on first use.
func (r *Runner) compiledFor(ctx context.Context, version uint32, codeID common.CodeID, instrumented []byte) (wazero.CompiledModule, error) {
	key := compiledKey{version: version, codeID: codeID}
	if c, ok := r.compiled[key]; ok {
		return c, nil
	}
	c, err := r.runtime.CompileModule(ctx, instrumented)
	if err != nil {
		return nil, err
	}
	r.compiled[key] = c
	return c, nil
}

// restoreMemory rehydrates a freshly instantiated guest's linear memory
// from the program's persisted page map: wazero already zeroes fresh
// memory, so a gear page absent from the map (never written) is simply
// left alone.
func restoreMemory(alloc *pages.Context, pm *state.PageMap, mod api.Module, store *ProgramStore) error {
	for _, p := range alloc.AllocatedPages() {
		for _, gi := range p.ToGearIndices() {
			hash, ok := pm.Get(gi)
			if !ok {
				continue
			}
			data, found, err := store.ReadPageData(hash)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("runner: gear page %d data missing from CAS", gi)
			}
			if !mod.Memory().Write(uint32(gi)*pages.GearPageSize, data) {
				return fmt.Errorf("runner: writing gear page %d out of bounds", gi)
			}
		}
	}
	return nil
}

// persistMemory writes back every currently allocated gear page's
// content (content-addressed writes are idempotent, so always
// re-writing trades a little write amplification for not having to
// diff against the pre-invocation content) and removes map entries for
// gear pages no longer allocated, returning the touched regions.
func persistMemory(alloc *pages.Context, pm *state.PageMap, mod api.Module, store *ProgramStore) ([]state.RegionIndex, error) {
	allocatedGear := make(map[pages.GearIndex]bool)
	batch := make(map[pages.GearIndex]common.Hash)
	for _, p := range alloc.AllocatedPages() {
		for _, gi := range p.ToGearIndices() {
			allocatedGear[gi] = true
			data, ok := mod.Memory().Read(uint32(gi)*pages.GearPageSize, pages.GearPageSize)
			if !ok {
				return nil, fmt.Errorf("runner: reading gear page %d out of bounds", gi)
			}
			hash, err := store.WritePageData(data)
			if err != nil {
				return nil, err
			}
			batch[gi] = hash
		}
	}
	touched := pm.WriteBatch(batch)

	var removed []pages.GearIndex
	for ri := 0; ri < state.NumRegions; ri++ {
		for gi := range pm.RegionEntries(state.RegionIndex(ri)) {
			if !allocatedGear[gi] {
				removed = append(removed, gi)
			}
		}
	}
	touched = append(touched, pm.RemoveBatch(removed)...)
	return touched, nil
}

// memoryGrower adapts a single invocation's api.Module to the
// MemoryGrower interface runnerExternalities.AllocPages uses.
type memoryGrower struct{ mod api.Module }

func (g memoryGrower) GrowPages(n uint32) bool {
	_, ok := g.mod.Memory().Grow(n)
	return ok
}

// programRegistrar adapts ProgramStore to the ProgramRegistrar interface
// runnerExternalities.CreateProgram uses.
type programRegistrar struct{ store *ProgramStore }

func (p programRegistrar) RegisterProgram(actor common.ActorID, codeID common.CodeID) error {
	if _, ok, err := p.store.LoadProgramState(actor); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := p.store.SetCodeIDFor(actor, codeID); err != nil {
		return err
	}
	return p.store.SaveProgramState(actor, state.NewActiveProgramState())
}
