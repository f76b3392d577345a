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

// registerIntrospection wires the infallible/read-only group of
// spec.md §4.4: these never fail at the ABI level (bounds-checking
// aside), so none of them touch the last-error buffer.
func (h *Host) registerIntrospection() {
	h.export("source", func(ctx context.Context, mod api.Module, out uint32) {
		writeActorID(mod, out, externalitiesFrom(ctx).Source())
	})

	h.export("program_id", func(ctx context.Context, mod api.Module, out uint32) {
		writeActorID(mod, out, externalitiesFrom(ctx).ProgramID())
	})

	h.export("message_id", func(ctx context.Context, mod api.Module, out uint32) {
		writeMessageID(mod, out, externalitiesFrom(ctx).MessageID())
	})

	h.export("origin", func(ctx context.Context, mod api.Module, out uint32) {
		writeActorID(mod, out, externalitiesFrom(ctx).Origin())
	})

	h.export("value", func(ctx context.Context, mod api.Module, out uint32) {
		writeValue128(mod, out, externalitiesFrom(ctx).Value())
	})

	h.export("value_available", func(ctx context.Context, mod api.Module, out uint32) {
		writeValue128(mod, out, externalitiesFrom(ctx).ValueAvailable())
	})

	h.export("size", func(ctx context.Context, mod api.Module) uint32 {
		return externalitiesFrom(ctx).PayloadSize()
	})

	h.export("read", func(ctx context.Context, mod api.Module, offset, length, dest uint32) uint32 {
		ext := externalitiesFrom(ctx)
		data, ok := ext.ReadPayload(offset, length)
		if !ok {
			trap(ErrAccessOutOfBounds)
		}
		writeBytes(mod, dest, data)
		return writeErrorLen(ext, nil)
	})

	h.export("block_height", func(ctx context.Context, mod api.Module) uint32 {
		return uint32(externalitiesFrom(ctx).BlockHeight())
	})

	h.export("block_timestamp", func(ctx context.Context, mod api.Module) uint64 {
		return externalitiesFrom(ctx).BlockTimestamp()
	})

	h.export("gas_available", func(ctx context.Context, mod api.Module) uint64 {
		return uint64(externalitiesFrom(ctx).GasAvailable())
	})

	// env_vars is versioned: the host writes exactly the record layout of
	// the requested version, accepting any version ≤ current (spec.md
	// §6's backward-compatibility guarantee for the host ABI).
	h.export("env_vars", func(ctx context.Context, mod api.Module, version, dest uint32) uint32 {
		ext := externalitiesFrom(ctx)
		data, ok := ext.EnvVar(version)
		if !ok {
			trap(ErrAccessOutOfBounds)
		}
		writeBytes(mod, dest, data)
		return writeErrorLen(ext, nil)
	})

	h.export("random", func(ctx context.Context, mod api.Module, subjectPtr, subjectLen, blockOut, hashOut uint32) {
		ext := externalitiesFrom(ctx)
		subject := readBytes(mod, subjectPtr, subjectLen)
		block, hash := ext.Random(subject)
		writeBytes(mod, blockOut, encodeU32(uint32(block)))
		writeHash(mod, hashOut, hash)
	})
}
