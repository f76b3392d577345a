// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syscall

import (
	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/msgctx"
)

// Externalities is the capability object a single invocation's host
// functions operate against (spec.md §9's "polymorphism via explicit
// capability objects": every syscall group below is a method set an
// embedder-supplied implementation satisfies, rather than a global or a
// type switch). core/runner constructs one per invocation, wiring it to
// that invocation's msgctx.MessageContext, gasnode.Counter, pages.Context,
// and program/queue state, then installs it via WithExternalities before
// calling the guest's entry point.
type Externalities interface {
	// Messaging (fallible). Each returns the deterministic message id
	// generated by the underlying msgctx.MessageContext.
	Send(dest common.ActorID, payload []byte, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.MessageID, error)
	SendInit() (msgctx.Handle, error)
	SendPush(handle msgctx.Handle, payload []byte) error
	SendCommit(handle msgctx.Handle, dest common.ActorID, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.MessageID, error)
	Reply(payload []byte, value common.Value128, gasLimit *common.Gas) (common.MessageID, error)
	ReplyPush(payload []byte) error
	ReplyCommit(value common.Value128, gasLimit *common.Gas) (common.MessageID, error)
	CreateProgram(codeID common.CodeID, salt, payload []byte, value common.Value128, gasLimit *common.Gas, delay *uint32) (common.ActorID, common.MessageID, error)
	ReservationSend(reservation common.ReservationID, dest common.ActorID, payload []byte, value common.Value128, delay *uint32) (common.MessageID, error)
	ReservationReply(reservation common.ReservationID, payload []byte, value common.Value128) (common.MessageID, error)

	// Introspection (infallible/read-only).
	Source() common.ActorID
	ProgramID() common.ActorID
	MessageID() common.MessageID
	Origin() common.ActorID
	Value() common.Value128
	ValueAvailable() common.Value128
	PayloadSize() uint32
	ReadPayload(offset, length uint32) ([]byte, bool)
	BlockHeight() common.BlockNumber
	BlockTimestamp() uint64
	GasAvailable() common.Gas
	EnvVar(version uint32) ([]byte, bool)
	Random(subject []byte) (common.BlockNumber, common.Hash)

	// Memory.
	AllocPages(n uint32) (uint32, error)
	FreePage(page uint32) error
	FreePageRange(lo, hi uint32) error

	// Control. The wait/exit/leave/panic family never returns to the
	// caller — callers of these methods are expected to trap immediately
	// with the returned error.
	Wait() error
	WaitFor(duration uint32) error
	WaitUpTo(duration uint32) error
	Wake(msg common.MessageID, delay uint32) error
	Exit(inheritor common.ActorID) error
	Leave() error
	Panic(payload []byte) error
	OOMPanic() error
	ReplyDeposit(msg common.MessageID, amount common.Gas) error
	ReserveGas(amount common.Gas, duration uint32) (common.ReservationID, error)
	UnreserveGas(id common.ReservationID) error

	// Charge debits amount from the invocation's gas counter, used both
	// by the injected gas_charge calls and directly by memory-grow and
	// allocation surcharges.
	Charge(amount common.Gas) error

	// Last-error buffer (spec.md §4.4 "Introspection of errors").
	// SetLastError records err's reply code and returns its encoded
	// length for the calling syscall's return value; ClearLastError
	// marks a success, invalidating any previously recorded error so a
	// subsequent error() call fails with SyscallErrorExpected.
	SetLastError(err error) uint32
	ClearLastError()
	// LastError returns the most recently recorded error code and
	// whether one is currently valid.
	LastError() ([]byte, bool)

	// Forbidden reports whether policy disables a given syscall name,
	// backing the Forbidden-function sentinel (spec.md §4.4).
	Forbidden(name string) bool
}
