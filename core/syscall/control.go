// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syscall

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/common"
)

// registerControl wires the Control group of spec.md §4.4. wait,
// wait_for, wait_up_to, exit, leave, panic and oom_panic always trap the
// invocation with a termination reason core/runner distinguishes from a
// fatal error (Wait/Leave/Exit are resumable or benign, per §4.7) — they
// never return to the guest. wake, reply_deposit, reserve_gas and
// unreserve_gas return to the guest under the last-error convention.
func (h *Host) registerControl() {
	h.export("wait", func(ctx context.Context, mod api.Module) {
		trap(externalitiesFrom(ctx).Wait())
	})

	h.export("wait_for", func(ctx context.Context, mod api.Module, duration uint32) {
		trap(externalitiesFrom(ctx).WaitFor(duration))
	})

	h.export("wait_up_to", func(ctx context.Context, mod api.Module, duration uint32) {
		trap(externalitiesFrom(ctx).WaitUpTo(duration))
	})

	h.export("wake", func(ctx context.Context, mod api.Module, msgPtr, delay uint32) uint32 {
		ext := externalitiesFrom(ctx)
		msg := readMessageID(mod, msgPtr)
		return writeErrorLen(ext, ext.Wake(msg, delay))
	})

	h.export("exit", func(ctx context.Context, mod api.Module, inheritorPtr uint32) {
		ext := externalitiesFrom(ctx)
		inheritor := readActorID(mod, inheritorPtr)
		trap(ext.Exit(inheritor))
	})

	h.export("leave", func(ctx context.Context, mod api.Module) {
		trap(externalitiesFrom(ctx).Leave())
	})

	h.export("panic", func(ctx context.Context, mod api.Module, payloadPtr, payloadLen uint32) {
		ext := externalitiesFrom(ctx)
		payload := readBytes(mod, payloadPtr, payloadLen)
		trap(ext.Panic(payload))
	})

	h.export("oom_panic", func(ctx context.Context, mod api.Module) {
		trap(externalitiesFrom(ctx).OOMPanic())
	})

	h.export("reply_deposit", func(ctx context.Context, mod api.Module, msgPtr uint32, amount uint64) uint32 {
		ext := externalitiesFrom(ctx)
		msg := readMessageID(mod, msgPtr)
		return writeErrorLen(ext, ext.ReplyDeposit(msg, common.Gas(amount)))
	})

	h.export("reserve_gas", func(ctx context.Context, mod api.Module, amount uint64, duration, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		id, err := ext.ReserveGas(common.Gas(amount), duration)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeReservationID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("unreserve_gas", func(ctx context.Context, mod api.Module, idPtr uint32) uint32 {
		ext := externalitiesFrom(ctx)
		id := readReservationID(mod, idPtr)
		return writeErrorLen(ext, ext.UnreserveGas(id))
	})
}
