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
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/gasnode"
	"github.com/probechain/gactor/core/queue"
	"github.com/probechain/gactor/core/schedule"
	"github.com/probechain/gactor/core/state"
	"github.com/probechain/gactor/gasconf"
	"github.com/probechain/gactor/gasdb"
)

// memKV is a minimal in-memory gasdb.KeyValueStore stand-in, the same
// shape as gasdb's own unexported test fake, kept package-local since
// that one isn't exported for reuse across packages.
type memKV struct {
	m map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: map[string][]byte{}} }

func (k *memKV) Get(key []byte) ([]byte, bool, error) {
	v, ok := k.m[string(key)]
	return v, ok, nil
}
func (k *memKV) Put(key []byte, value []byte) error {
	k.m[string(key)] = append([]byte(nil), value...)
	return nil
}
func (k *memKV) Contains(key []byte) (bool, error) {
	_, ok := k.m[string(key)]
	return ok, nil
}
func (k *memKV) IterPrefix(prefix []byte) gasdb.Iterator { return nil }
func (k *memKV) Close() error                            { return nil }

func actor(b byte) common.ActorID {
	var a common.ActorID
	a[31] = b
	return a
}
func msgID(b byte) common.MessageID {
	var m common.MessageID
	m[31] = b
	return m
}

func newTestRunner(t *testing.T) (*Runner, func()) {
	t.Helper()
	ctx := context.Background()
	kv := newMemKV()
	store, err := NewProgramStore(kv, common.DefaultHasher, 0, 0)
	if err != nil {
		t.Fatalf("NewProgramStore: %v", err)
	}
	sched, err := schedule.New(kv, 0)
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}
	rt := wazero.NewRuntime(ctx)
	cfg := gasconf.Defaults
	r, err := NewRunner(ctx, &cfg, store, sched, rt)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, func() { _ = r.Close(ctx) }
}

func TestSelectEntry(t *testing.T) {
	uninitialized := &state.ProgramState{Status: state.StatusActive, Initialized: false}
	initialized := &state.ProgramState{Status: state.StatusActive, Initialized: true}

	cases := []struct {
		name       string
		st         *state.ProgramState
		kind       queue.Kind
		wantEntry  string
		wantInit   bool
		wantUnsupp bool
	}{
		{"init on fresh program", uninitialized, queue.KindInit, "init", true, false},
		{"handle on fresh program is unsupported", uninitialized, queue.KindHandle, "", false, true},
		{"reply on fresh program is unsupported", uninitialized, queue.KindReply, "", false, true},
		{"second init is unsupported", initialized, queue.KindInit, "", false, true},
		{"handle on initialized program", initialized, queue.KindHandle, "handle", false, false},
		{"reply on initialized program", initialized, queue.KindReply, "handle_reply", false, false},
		{"signal on initialized program", initialized, queue.KindSignal, "handle_signal", false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := &queue.Dispatch{Kind: c.kind}
			entry, isInit, unsupported := selectEntry(c.st, d)
			if entry != c.wantEntry || isInit != c.wantInit || unsupported != c.wantUnsupp {
				t.Fatalf("selectEntry = (%q, %v, %v), want (%q, %v, %v)",
					entry, isInit, unsupported, c.wantEntry, c.wantInit, c.wantUnsupp)
			}
		})
	}
}

func TestBuildErrorReplyDeterministicAndAddressed(t *testing.T) {
	original := &queue.Dispatch{
		MessageID: msgID(1),
		Source:    actor(2),
	}
	program := actor(3)

	a := buildErrorReply(common.DefaultHasher, program, original, queue.ReplyErrorOutOfGas)
	b := buildErrorReply(common.DefaultHasher, program, original, queue.ReplyErrorOutOfGas)

	if a.MessageID != b.MessageID {
		t.Fatalf("buildErrorReply is not deterministic: %s != %s", a.MessageID, b.MessageID)
	}
	if a.Kind != queue.KindReply {
		t.Fatalf("Kind = %v, want KindReply", a.Kind)
	}
	if a.Source != program {
		t.Fatalf("Source = %s, want %s", a.Source, program)
	}
	if a.Destination != original.Source {
		t.Fatalf("Destination = %s, want %s", a.Destination, original.Source)
	}
	if a.ReplyDetails == nil || a.ReplyDetails.RepliedTo != original.MessageID || a.ReplyDetails.Code != queue.ReplyErrorOutOfGas {
		t.Fatalf("ReplyDetails = %+v, want RepliedTo=%s Code=%v", a.ReplyDetails, original.MessageID, queue.ReplyErrorOutOfGas)
	}

	other := buildErrorReply(common.DefaultHasher, program, original, queue.ReplyErrorExecutionFailed)
	if other.MessageID == a.MessageID {
		t.Fatal("different reply codes must not collide in this test's inputs by coincidence")
	}
}

func TestNewReservations(t *testing.T) {
	id1, id2 := common.ReservationID(msgID(1)), common.ReservationID(msgID(2))
	before := map[common.ReservationID]queue.ReservationEntry{
		id1: {Amount: 10, Expiry: 5},
	}
	after := map[common.ReservationID]queue.ReservationEntry{
		id1: {Amount: 3, Expiry: 5},
		id2: {Amount: 7, Expiry: 9},
	}
	got := newReservations(before, after)
	if len(got) != 1 || got[0] != id2 {
		t.Fatalf("newReservations = %v, want [%s]", got, id2)
	}
}

func TestProcessDispatchUnknownDestinationShortCircuits(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	d := &queue.Dispatch{
		MessageID:   msgID(1),
		Kind:        queue.KindHandle,
		Source:      actor(1),
		Destination: actor(99), // never registered
	}
	if err := r.gasTree.Create(d.Source, d.MessageID, 1000); err != nil {
		t.Fatalf("gasTree.Create: %v", err)
	}

	q := queue.NewQueue()
	outcome, err := r.processDispatch(context.Background(), BlockInput{Number: 1}, q, d)
	if err != nil {
		t.Fatalf("processDispatch: %v", err)
	}
	if outcome.Reason.Kind != ReasonSuccess {
		t.Fatalf("Reason = %v, want success (short-circuited, not faulted)", outcome.Reason)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1 (error reply enqueued)", q.Len())
	}
	reply, _ := q.PopFront()
	if reply.Kind != queue.KindReply || reply.ReplyDetails.Code != queue.ReplyErrorUnsupportedMessage {
		t.Fatalf("reply = %+v, want KindReply/ReplyErrorUnsupportedMessage", reply)
	}
	// The error reply's node is a live child, so the consumed incoming node
	// is kept as a blockage; a second Consume reports it already consumed.
	if _, err := r.gasTree.Consume(d.MessageID); err != gasnode.ErrNodeWasConsumed {
		t.Fatalf("incoming gas node should have been consumed, got %v", err)
	}
}

func TestProcessDispatchInactiveDestinationCreditsInheritor(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	inheritor := actor(7)
	inheritorState := state.NewActiveProgramState()
	if err := r.store.SaveProgramState(inheritor, inheritorState); err != nil {
		t.Fatalf("SaveProgramState(inheritor): %v", err)
	}

	dest := actor(8)
	destState := state.NewActiveProgramState()
	if err := destState.Terminate(inheritor); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := r.store.SaveProgramState(dest, destState); err != nil {
		t.Fatalf("SaveProgramState(dest): %v", err)
	}

	d := &queue.Dispatch{
		MessageID:   msgID(2),
		Kind:        queue.KindHandle,
		Source:      actor(1),
		Destination: dest,
		Value:       common.NewValue128(42),
	}
	if err := r.gasTree.Create(d.Source, d.MessageID, 1000); err != nil {
		t.Fatalf("gasTree.Create: %v", err)
	}

	q := queue.NewQueue()
	if _, err := r.processDispatch(context.Background(), BlockInput{Number: 1}, q, d); err != nil {
		t.Fatalf("processDispatch: %v", err)
	}

	got, ok, err := r.store.LoadProgramState(inheritor)
	if err != nil || !ok {
		t.Fatalf("LoadProgramState(inheritor) = %v, %v, %v", got, ok, err)
	}
	if got.ReducibleBalance.Cmp(common.NewValue128(42)) != 0 {
		t.Fatalf("inheritor ReducibleBalance = %s, want 42", got.ReducibleBalance)
	}
}

func TestRunBlockStopsAtGasAllowance(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	d1 := &queue.Dispatch{MessageID: msgID(1), Kind: queue.KindHandle, Source: actor(1), Destination: actor(2)}
	d2 := &queue.Dispatch{MessageID: msgID(2), Kind: queue.KindHandle, Source: actor(1), Destination: actor(3)}

	out, err := r.RunBlock(context.Background(), BlockInput{
		Number:       1,
		GasAllowance: 0,
		Injected: []InjectedMessage{
			{Dispatch: d1, GasLimit: 100},
			{Dispatch: d2, GasLimit: 100},
		},
	})
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	if len(out.Outcomes) != 1 || out.Outcomes[0].Reason.Kind != ReasonGasAllowanceExceeded {
		t.Fatalf("Outcomes = %+v, want a single GasAllowanceExceeded outcome", out.Outcomes)
	}

	q, err := r.store.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("remaining queue len = %d, want 2 (both dispatches pushed back)", q.Len())
	}
}

func TestApplyTaskWakeMessageRequeuesDispatch(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	d := &queue.Dispatch{MessageID: msgID(5), Kind: queue.KindHandle, Source: actor(2), Destination: program}

	wl, err := r.store.LoadWaitlist(program)
	if err != nil {
		t.Fatalf("LoadWaitlist: %v", err)
	}
	if err := wl.Insert(d.MessageID, d, 10); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveWaitlist(program, wl); err != nil {
		t.Fatalf("SaveWaitlist: %v", err)
	}

	if err := r.applyTask(schedule.WakeMessageTask(program, d.MessageID)); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	wl2, err := r.store.LoadWaitlist(program)
	if err != nil {
		t.Fatalf("LoadWaitlist: %v", err)
	}
	if wl2.Len() != 0 {
		t.Fatalf("waitlist len = %d, want 0", wl2.Len())
	}
	q, err := r.store.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}

func TestApplyTaskRemoveFromWaitlistRepliesWithError(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	d := &queue.Dispatch{MessageID: msgID(6), Kind: queue.KindHandle, Source: actor(2), Destination: program}
	if err := r.gasTree.Create(d.Source, d.MessageID, 500); err != nil {
		t.Fatalf("gasTree.Create: %v", err)
	}

	wl, err := r.store.LoadWaitlist(program)
	if err != nil {
		t.Fatalf("LoadWaitlist: %v", err)
	}
	if err := wl.Insert(d.MessageID, d, 10); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveWaitlist(program, wl); err != nil {
		t.Fatalf("SaveWaitlist: %v", err)
	}

	if err := r.applyTask(schedule.RemoveFromWaitlistTask(program, d.MessageID)); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	q, err := r.store.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	reply, _ := q.PopFront()
	if reply.ReplyDetails == nil || reply.ReplyDetails.Code != queue.ReplyErrorRemovedFromWaitlist {
		t.Fatalf("reply = %+v, want ReplyErrorRemovedFromWaitlist", reply)
	}
	// The error reply's node is a live child, so the consumed original node
	// is kept as a blockage; a second Consume reports it already consumed.
	if _, err := r.gasTree.Consume(d.MessageID); err != gasnode.ErrNodeWasConsumed {
		t.Fatalf("original gas node should have been consumed on expiry, got %v", err)
	}
}

func TestApplyTaskRemoveFromStashWithUserMovesToMailbox(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	user := actor(4)
	d := &queue.Dispatch{MessageID: msgID(7), Kind: queue.KindHandle, Source: actor(2), Destination: program, Value: common.NewValue128(5)}

	stash, err := r.store.LoadStash(program)
	if err != nil {
		t.Fatalf("LoadStash: %v", err)
	}
	if err := stash.Insert(d.MessageID, queue.StashEntry{Dispatch: d, Expiry: 20, HasUser: true, Recipient: user}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveStash(program, stash); err != nil {
		t.Fatalf("SaveStash: %v", err)
	}

	if err := r.applyTask(schedule.RemoveFromStashTask(program, d.MessageID)); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	mb, err := r.store.LoadMailbox(program)
	if err != nil {
		t.Fatalf("LoadMailbox: %v", err)
	}
	entry, ok := mb.Get(user, d.MessageID)
	if !ok {
		t.Fatal("expected mailbox entry for user")
	}
	if entry.Value.Cmp(common.NewValue128(5)) != 0 {
		t.Fatalf("mailbox entry value = %s, want 5", entry.Value)
	}
}

func TestApplyTaskRemoveFromStashWithoutUserEnqueues(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	d := &queue.Dispatch{MessageID: msgID(8), Kind: queue.KindHandle, Source: actor(2), Destination: program}

	stash, err := r.store.LoadStash(program)
	if err != nil {
		t.Fatalf("LoadStash: %v", err)
	}
	if err := stash.Insert(d.MessageID, queue.StashEntry{Dispatch: d, Expiry: 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveStash(program, stash); err != nil {
		t.Fatalf("SaveStash: %v", err)
	}

	if err := r.applyTask(schedule.RemoveFromStashTask(program, d.MessageID)); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	q, err := r.store.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}

func TestApplyTaskRemoveReservationConsumesGasNode(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	resID := common.ReservationID(msgID(9))

	root := msgID(100)
	if err := r.gasTree.Create(program, root, 1000); err != nil {
		t.Fatalf("gasTree.Create: %v", err)
	}
	if err := r.gasTree.Cut(root, common.MessageID(resID), 50); err != nil {
		t.Fatalf("gasTree.Cut: %v", err)
	}

	res, err := r.store.LoadReservations(program)
	if err != nil {
		t.Fatalf("LoadReservations: %v", err)
	}
	if err := res.Insert(resID, queue.ReservationEntry{Amount: 50, Expiry: 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveReservations(program, res); err != nil {
		t.Fatalf("SaveReservations: %v", err)
	}

	if err := r.applyTask(schedule.RemoveReservationTask(program, resID)); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	res2, err := r.store.LoadReservations(program)
	if err != nil {
		t.Fatalf("LoadReservations: %v", err)
	}
	if res2.Len() != 0 {
		t.Fatalf("reservations len = %d, want 0", res2.Len())
	}
	if r.gasTree.Exists(common.MessageID(resID)) {
		t.Fatal("reservation's gas-tree leaf should have been consumed")
	}
}

func TestApplyTaskRemoveFromMailbox(t *testing.T) {
	r, done := newTestRunner(t)
	defer done()

	program := actor(1)
	user := actor(2)

	mb, err := r.store.LoadMailbox(program)
	if err != nil {
		t.Fatalf("LoadMailbox: %v", err)
	}
	if err := mb.Insert(user, msgID(11), queue.MailboxEntry{Value: common.NewValue128(1), Expiry: 40}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.store.SaveMailbox(program, mb); err != nil {
		t.Fatalf("SaveMailbox: %v", err)
	}

	if err := r.applyTask(schedule.Task{Kind: schedule.KindRemoveFromMailbox, Program: program, User: user, MessageID: msgID(11)}); err != nil {
		t.Fatalf("applyTask: %v", err)
	}

	mb2, err := r.store.LoadMailbox(program)
	if err != nil {
		t.Fatalf("LoadMailbox: %v", err)
	}
	if _, ok := mb2.Get(user, msgID(11)); ok {
		t.Fatal("mailbox entry should have been expired")
	}
}
