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
)

// registerMessaging wires the fallible messaging group of spec.md §4.4.
// Every handler follows the same shape: decode arguments from guest
// memory, call the matching Externalities method, and on success write
// the produced id to the caller pointer and return 0; on failure record
// the error and return its encoded length.
func (h *Host) registerMessaging() {
	h.export("send", func(ctx context.Context, mod api.Module, destPtr, payloadPtr, payloadLen, valuePtr, gasLimitPtr, delayPtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		dest := readActorID(mod, destPtr)
		payload := readBytes(mod, payloadPtr, payloadLen)
		value := readValue128(mod, valuePtr)
		gasLimit := readOptionalGas(mod, gasLimitPtr)
		delay := readOptionalDelay(mod, delayPtr)

		id, err := ext.Send(dest, payload, value, gasLimit, delay)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("send_init", func(ctx context.Context, mod api.Module, handleOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		handle, err := ext.SendInit()
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeBytes(mod, handleOut, encodeU32(uint32(handle)))
		return writeErrorLen(ext, nil)
	})

	h.export("send_push", func(ctx context.Context, mod api.Module, handle, payloadPtr, payloadLen uint32) uint32 {
		ext := externalitiesFrom(ctx)
		payload := readBytes(mod, payloadPtr, payloadLen)
		err := ext.SendPush(decodeHandle(handle), payload)
		return writeErrorLen(ext, err)
	})

	h.export("send_commit", func(ctx context.Context, mod api.Module, handle, destPtr, valuePtr, gasLimitPtr, delayPtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		dest := readActorID(mod, destPtr)
		value := readValue128(mod, valuePtr)
		gasLimit := readOptionalGas(mod, gasLimitPtr)
		delay := readOptionalDelay(mod, delayPtr)

		id, err := ext.SendCommit(decodeHandle(handle), dest, value, gasLimit, delay)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("reply", func(ctx context.Context, mod api.Module, payloadPtr, payloadLen, valuePtr, gasLimitPtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		payload := readBytes(mod, payloadPtr, payloadLen)
		value := readValue128(mod, valuePtr)
		gasLimit := readOptionalGas(mod, gasLimitPtr)

		id, err := ext.Reply(payload, value, gasLimit)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("reply_push", func(ctx context.Context, mod api.Module, payloadPtr, payloadLen uint32) uint32 {
		ext := externalitiesFrom(ctx)
		payload := readBytes(mod, payloadPtr, payloadLen)
		return writeErrorLen(ext, ext.ReplyPush(payload))
	})

	h.export("reply_commit", func(ctx context.Context, mod api.Module, valuePtr, gasLimitPtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		value := readValue128(mod, valuePtr)
		gasLimit := readOptionalGas(mod, gasLimitPtr)

		id, err := ext.ReplyCommit(value, gasLimit)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("create_program", func(ctx context.Context, mod api.Module, codeIDPtr, saltPtr, saltLen, payloadPtr, payloadLen, valuePtr, gasLimitPtr, delayPtr, actorOut, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		codeID := readCodeID(mod, codeIDPtr)
		salt := readBytes(mod, saltPtr, saltLen)
		payload := readBytes(mod, payloadPtr, payloadLen)
		value := readValue128(mod, valuePtr)
		gasLimit := readOptionalGas(mod, gasLimitPtr)
		delay := readOptionalDelay(mod, delayPtr)

		actor, id, err := ext.CreateProgram(codeID, salt, payload, value, gasLimit, delay)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeActorID(mod, actorOut, actor)
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("reservation_send", func(ctx context.Context, mod api.Module, reservationPtr, destPtr, payloadPtr, payloadLen, valuePtr, delayPtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		reservation := readReservationID(mod, reservationPtr)
		dest := readActorID(mod, destPtr)
		payload := readBytes(mod, payloadPtr, payloadLen)
		value := readValue128(mod, valuePtr)
		delay := readOptionalDelay(mod, delayPtr)

		id, err := ext.ReservationSend(reservation, dest, payload, value, delay)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})

	h.export("reservation_reply", func(ctx context.Context, mod api.Module, reservationPtr, payloadPtr, payloadLen, valuePtr, idOut uint32) uint32 {
		ext := externalitiesFrom(ctx)
		reservation := readReservationID(mod, reservationPtr)
		payload := readBytes(mod, payloadPtr, payloadLen)
		value := readValue128(mod, valuePtr)

		id, err := ext.ReservationReply(reservation, payload, value)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		writeMessageID(mod, idOut, id)
		return writeErrorLen(ext, nil)
	})
}
