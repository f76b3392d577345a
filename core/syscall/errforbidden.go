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

// registerErrorIntrospection wires error(), required by spec.md §4.4 to
// be preceded by at least one failed syscall in the same invocation.
func (h *Host) registerErrorIntrospection() {
	h.export("error", func(ctx context.Context, mod api.Module, dest uint32) uint32 {
		ext := externalitiesFrom(ctx)
		code, ok := ext.LastError()
		if !ok {
			trap(ErrSyscallErrorExpected)
		}
		writeBytes(mod, dest, code)
		return uint32(len(code))
	})
}

// registerForbidden exposes the sentinel syscall of spec.md §4.4:
// invoking it always traps with ForbiddenFunction. Externalities.Forbidden
// additionally lets an embedder disable any other named syscall by
// policy; Host.export wraps every registration with a Forbidden check
// (see export in syscall.go) so the policy applies uniformly.
func (h *Host) registerForbidden() {
	h.export("forbidden_function", func(ctx context.Context, mod api.Module) {
		trap(ErrForbiddenFunction)
	})
}
