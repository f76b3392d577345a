// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package queue

import "fmt"

// ReplyCode is the wire-visible outcome attached to a reply dispatch.
// spec.md §4.7 names the TrapExplanation variants a failed invocation
// produces but is silent on the code a source actor observes on the
// reply it receives; original_source reinstates this as a small closed
// enum so reply-driven actors (the ping/pong seed scenario) can branch
// on why a counterpart failed, not merely that it did.
type ReplyCode uint32

const (
	// ReplySuccess is attached to a reply produced by ordinary,
	// non-trapping execution.
	ReplySuccess ReplyCode = iota
	// ReplyErrorExecutionFailed covers program-level traps other than
	// the more specific classes below (spec.md §4.7's Trap(Other),
	// Unreachable, StackLimit, UserspacePanic, OOM).
	ReplyErrorExecutionFailed
	// ReplyErrorOutOfGas is attached when the invocation trapped with
	// GasLimitExceeded.
	ReplyErrorOutOfGas
	// ReplyErrorRemovedFromWaitlist is attached when a waiting dispatch
	// was cancelled by its scheduled RemoveFromWaitlist task rather than
	// an explicit wake (spec.md §5 Cancellation).
	ReplyErrorRemovedFromWaitlist
	// ReplyErrorInactiveActor is attached when a dispatch resolved to a
	// non-Active destination (spec.md §4.6.b). A non-zero value is
	// credited to the destination's immediate inheritor if that inheritor
	// has a program state and is dropped otherwise; the inheritor's own
	// inheritor is not followed.
	ReplyErrorInactiveActor
	// ReplyErrorUnsupportedMessage is attached when the destination has no
	// program state, or when the dispatch's kind has no entry point in the
	// destination's current state (a second init, or a non-init dispatch
	// to a program not yet initialized; §4.6's tie-break rule). A program
	// missing a required export gets no reply: the runner returns an
	// error instead.
	ReplyErrorUnsupportedMessage
)

func (c ReplyCode) String() string {
	switch c {
	case ReplySuccess:
		return "success"
	case ReplyErrorExecutionFailed:
		return "execution-failed"
	case ReplyErrorOutOfGas:
		return "out-of-gas"
	case ReplyErrorRemovedFromWaitlist:
		return "removed-from-waitlist"
	case ReplyErrorInactiveActor:
		return "inactive-actor"
	case ReplyErrorUnsupportedMessage:
		return "unsupported-message"
	default:
		return fmt.Sprintf("reply-code(%d)", uint32(c))
	}
}
