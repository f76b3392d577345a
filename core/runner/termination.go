// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/syscall"
)

// ReasonKind discriminates spec.md §4.7's termination taxonomy.
type ReasonKind uint8

const (
	ReasonSuccess ReasonKind = iota
	ReasonExit
	ReasonLeave
	ReasonWait
	ReasonGasAllowanceExceeded
	ReasonTrap
)

func (k ReasonKind) String() string {
	switch k {
	case ReasonSuccess:
		return "success"
	case ReasonExit:
		return "exit"
	case ReasonLeave:
		return "leave"
	case ReasonWait:
		return "wait"
	case ReasonGasAllowanceExceeded:
		return "gas-allowance-exceeded"
	case ReasonTrap:
		return "trap"
	default:
		return fmt.Sprintf("reason(%d)", k)
	}
}

// TrapKind discriminates the fatal sub-variants of spec.md §4.7.
type TrapKind uint8

const (
	TrapGasLimitExceeded TrapKind = iota
	TrapStackLimitExceeded
	TrapForbiddenFunction
	TrapUnreachableInstruction
	TrapMemoryAccess
	TrapOther
)

func (k TrapKind) String() string {
	switch k {
	case TrapGasLimitExceeded:
		return "gas-limit-exceeded"
	case TrapStackLimitExceeded:
		return "stack-limit-exceeded"
	case TrapForbiddenFunction:
		return "forbidden-function"
	case TrapUnreachableInstruction:
		return "unreachable-instruction"
	case TrapMemoryAccess:
		return "memory-access"
	case TrapOther:
		return "other"
	default:
		return fmt.Sprintf("trap-kind(%d)", k)
	}
}

// TrapExplanation names why a Trap termination occurred.
type TrapExplanation struct {
	Kind    TrapKind
	Message string // populated for TrapOther, the §4.7 Other(message) variant
}

func (t TrapExplanation) String() string {
	if t.Kind == TrapOther && t.Message != "" {
		return "other: " + t.Message
	}
	return t.Kind.String()
}

// TerminationReason is the outcome of executing one invocation's entry
// point to its suspension point (spec.md §4.7). Each field other than
// Kind is meaningful only for the Kind noted beside it.
type TerminationReason struct {
	Kind      ReasonKind
	Inheritor common.ActorID // ReasonExit
	Duration  *uint32        // ReasonWait: nil means an indefinite wait (gr_wait, woken only explicitly)
	// UpTo distinguishes gr_wait_up_to (may resume early on an explicit
	// wake without becoming a GasAllowanceExceeded-style hard miss) from
	// gr_wait_for (Duration is a hard deadline). Meaningful only when
	// Kind == ReasonWait and Duration != nil.
	UpTo bool
	Trap TrapExplanation // ReasonTrap
}

// Resumable reports whether the dispatch may still make progress in a
// later block (spec.md §4.7: "Only Wait and GasAllowanceExceeded are
// resumable").
func (r TerminationReason) Resumable() bool {
	return r.Kind == ReasonWait || r.Kind == ReasonGasAllowanceExceeded
}

func (r TerminationReason) String() string {
	switch r.Kind {
	case ReasonExit:
		return fmt.Sprintf("exit(%s)", r.Inheritor)
	case ReasonTrap:
		return fmt.Sprintf("trap(%s)", r.Trap)
	default:
		return r.Kind.String()
	}
}

// Success is the zero-value, ordinary-return termination.
var Success = TerminationReason{Kind: ReasonSuccess}

// Control-flow signals. runnerExternalities' Wait/WaitFor/WaitUpTo/
// Exit/Leave/Panic/OOMPanic methods return one of these as the error
// core/syscall.Host's control.go traps the invocation with (it never
// returns to the guest on success, matching spec.md §5's "only explicit
// host calls can suspend"). processDispatch passes the error fn.Call
// returns to classifyTrap, which maps it back into a TerminationReason.
var (
	errLeave = errors.New("runner: leave")
	errOOM   = errors.New("runner: out of memory")

	// errGasLimitExceeded is what Charge returns when the invocation's
	// gasnode.Counter is exhausted; it traps fatally, unlike block-level
	// GasAllowanceExceeded which the runner itself detects between
	// dispatches, never inside a syscall.
	errGasLimitExceeded = errors.New("runner: gas limit exceeded")
)

type waitSignal struct {
	duration *uint32
	upTo     bool
}

func (w waitSignal) Error() string {
	if w.duration == nil {
		return "runner: wait"
	}
	if w.upTo {
		return fmt.Sprintf("runner: wait up to %d blocks", *w.duration)
	}
	return fmt.Sprintf("runner: wait for %d blocks", *w.duration)
}

type exitSignal struct{ inheritor common.ActorID }

func (e exitSignal) Error() string { return fmt.Sprintf("runner: exit to %s", e.inheritor) }

type panicSignal struct{ payload []byte }

func (p panicSignal) Error() string { return fmt.Sprintf("runner: panic: %s", string(p.payload)) }

// classifyTrap maps the error fn.Call returned (normally wrapping the
// core/syscall.Trap a host function panicked with, per that package's
// trap() convention) onto spec.md §4.7's termination taxonomy. A value
// that is not an error is treated as an unclassified Go panic and
// surfaces as TrapOther — core/runner's own invocation code never panics
// on well-formed input (spec.md §7), so reaching that branch indicates a
// bug, not a guest fault. An error carrying none of this package's
// signals is classified by its message (wazero's own runtime traps),
// with TrapOther as the fallback.
func classifyTrap(recovered interface{}) TerminationReason {
	err, ok := recovered.(error)
	if !ok {
		if t, ok := recovered.(syscall.Trap); ok {
			err = t
		} else {
			return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapOther, Message: fmt.Sprintf("%v", recovered)}}
		}
	}

	var trap syscall.Trap
	if errors.As(err, &trap) {
		err = trap.Err
	}

	var wait waitSignal
	if errors.As(err, &wait) {
		return TerminationReason{Kind: ReasonWait, Duration: wait.duration, UpTo: wait.upTo}
	}
	var exit exitSignal
	if errors.As(err, &exit) {
		return TerminationReason{Kind: ReasonExit, Inheritor: exit.inheritor}
	}
	if errors.Is(err, errLeave) {
		return TerminationReason{Kind: ReasonLeave}
	}
	var userPanic panicSignal
	if errors.As(err, &userPanic) {
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapOther, Message: userPanic.Error()}}
	}
	if errors.Is(err, errOOM) {
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapOther, Message: "out of memory"}}
	}
	if errors.Is(err, errGasLimitExceeded) {
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapGasLimitExceeded}}
	}
	if errors.Is(err, syscall.ErrForbiddenFunction) {
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapForbiddenFunction}}
	}
	if errors.Is(err, syscall.ErrAccessOutOfBounds) {
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapMemoryAccess}}
	}

	// Anything reaching here is either one of spec.md §7's class-1/4
	// precondition or invariant-violation errors (gasnode/pages/msgctx/
	// queue sentinels, syscall.ErrSyscallErrorExpected) surfacing as a
	// trap, or a genuine guest-level wasm trap surfaced by wazero's own
	// Call error (unreachable, stack exhaustion, an out-of-bounds access
	// the guest bytecode performed itself rather than via a host call).
	// wazero does not export typed sentinels for these across the
	// module boundary, so classification falls back to the error
	// message wazero is documented to produce.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unreachable"):
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapUnreachableInstruction}}
	case strings.Contains(msg, "stack overflow") || strings.Contains(msg, "call stack exhausted"):
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapStackLimitExceeded}}
	case strings.Contains(msg, "out of bounds") || strings.Contains(msg, "out of memory bounds"):
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapMemoryAccess}}
	default:
		return TerminationReason{Kind: ReasonTrap, Trap: TrapExplanation{Kind: TrapOther, Message: msg}}
	}
}
