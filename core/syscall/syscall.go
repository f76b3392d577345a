// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package syscall binds spec.md §4.4's host-function ABI to a wazero
// guest: one exported Go function per syscall under the "env" import
// namespace, bounds-checked guest-memory access, a last-error buffer, and
// the forbidden-function sentinel.
//
// This is the only concrete Go wasm-host wiring retrieved in the corpus
// (other_examples moby-moby's vendored tetratelabs/wazero runtime
// config), so the registration shape — wazero.Runtime.NewHostModuleBuilder,
// HostFunctionBuilder.WithFunc, api.Module.Memory() — is this package's
// direct model; the fluentlabs-xyz go-ethereum wasm.go example shows the
// complementary idea of a per-opcode registration table driven by a
// cost/finalizer function, which this package's grouped registration
// (messaging.go/introspection.go/memory.go/control.go, each a flat list
// of host.export calls) follows in spirit without copying its
// zkwasm-wasmi-specific mechanics.
package syscall

import (
	"context"
	"errors"
	"math"
	"reflect"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/common"
)

// AbsentPtr is the sentinel guest pointer value meaning "this optional
// argument was not supplied", used for the optional gas_limit/delay
// pointers spec.md §4.4 leaves as `[...]` brackets. Guest address 0 is a
// valid, frequently-used address in a linear memory (many compilers place
// the shadow stack or string constants there), so 0 cannot double as
// "absent" the way alloc's own u32::MAX failure sentinel works; this
// package reuses that same u32::MAX convention for "absent" instead.
const AbsentPtr = uint32(math.MaxUint32)

// Sentinel errors a syscall handler may trap the invocation with. These
// are the ABI-level failure modes of spec.md §4.4, distinct from the
// Externalities-level errors (queue/gasnode/pages) a fallible syscall
// reports through the last-error buffer instead of a trap.
var (
	// ErrAccessOutOfBounds traps the invocation when a guest pointer/length
	// pair falls outside current linear memory.
	ErrAccessOutOfBounds = errors.New("syscall: access out of bounds")
	// ErrForbiddenFunction traps the invocation when the sentinel forbidden
	// syscall is invoked.
	ErrForbiddenFunction = errors.New("syscall: forbidden function")
	// ErrSyscallErrorExpected traps error() when called without a
	// preceding failed syscall in the same invocation.
	ErrSyscallErrorExpected = errors.New("syscall: error() called with no prior failed syscall")
)

// Trap wraps a sentinel or Externalities-originated error as the value a
// host function panics with to abort the wazero call. core/runner
// recovers this panic (wazero propagates a host function's panic back to
// the caller of the exported guest entry point as an error) and maps it
// onto the termination taxonomy of spec.md §4.7.
type Trap struct {
	Err error
}

func (t Trap) Error() string { return t.Err.Error() }
func (t Trap) Unwrap() error { return t.Err }

func trap(err error) { panic(Trap{Err: err}) }

// contextKey is an unexported type for the single typed context key this
// package uses, following spec.md §9's "polymorphism via explicit
// capability objects, never globals" design note — the per-invocation
// Externalities travels through context.Context, not a package-level
// variable.
type contextKey struct{}

// WithExternalities returns a context carrying ext, for use as the
// context passed to the guest's exported entry point call.
func WithExternalities(ctx context.Context, ext Externalities) context.Context {
	return context.WithValue(ctx, contextKey{}, ext)
}

// externalitiesFrom extracts the Externalities a host function call was
// made against. A missing value indicates a programming error in the
// caller (core/runner must always wrap invocations with
// WithExternalities), so it panics rather than trapping the guest.
func externalitiesFrom(ctx context.Context) Externalities {
	ext, ok := ctx.Value(contextKey{}).(Externalities)
	if !ok {
		panic("syscall: context has no Externalities; runner must call WithExternalities")
	}
	return ext
}

// Host registers every syscall of spec.md §4.4 plus the gas_charge import
// core/meter's instrumentation pass requires, under the "env" namespace.
type Host struct {
	builder wazero.HostModuleBuilder
}

// NewHost begins building the "env" host module against runtime.
func NewHost(runtime wazero.Runtime) *Host {
	return &Host{builder: runtime.NewHostModuleBuilder("env")}
}

// Instantiate finalizes registration and instantiates the host module.
func (h *Host) Instantiate(ctx context.Context) (api.Module, error) {
	return h.builder.Instantiate(ctx)
}

// export registers fn under name, guarding the call with the
// invocation's Forbidden policy (spec.md §4.4's "Forbidden function":
// an embedder may disable any named syscall, not only the dedicated
// forbidden_function sentinel).
func (h *Host) export(name string, fn interface{}) {
	h.builder.NewFunctionBuilder().WithFunc(forbiddenGuard(name, fn)).Export(name)
}

// forbiddenGuard wraps fn (a func(context.Context, api.Module, ...) ...,
// the shape every registerX handler above uses) so that, before fn runs,
// it checks the invocation's Externalities.Forbidden(name) and traps
// ForbiddenFunction instead of calling through. Built with reflection
// since each syscall group has a different argument list; this runs
// once per registration at startup, not per call, except for the
// Forbidden check itself which is cheap.
func forbiddenGuard(name string, fn interface{}) interface{} {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	wrapped := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		ctx, _ := args[0].Interface().(context.Context)
		if ctx != nil {
			if ext := externalitiesFromOptional(ctx); ext != nil && ext.Forbidden(name) {
				trap(ErrForbiddenFunction)
			}
		}
		return fnVal.Call(args)
	})
	return wrapped.Interface()
}

// externalitiesFromOptional mirrors externalitiesFrom but returns nil
// instead of panicking when ctx carries no Externalities, for use in
// forbiddenGuard where a missing value should fall through to the
// wrapped call (and its own externalitiesFrom) rather than panic twice.
func externalitiesFromOptional(ctx context.Context) Externalities {
	ext, _ := ctx.Value(contextKey{}).(Externalities)
	return ext
}

// Register wires every syscall group plus gas_charge onto h. Split out
// from NewHost so a caller can see, at the registration call site, the
// exact set of host functions an instrumented module will be linked
// against.
func (h *Host) Register() *Host {
	h.registerGasCharge()
	h.registerMessaging()
	h.registerIntrospection()
	h.registerMemorySyscalls()
	h.registerControl()
	h.registerErrorIntrospection()
	h.registerForbidden()
	h.registerCrypto()
	return h
}

// registerGasCharge wires the single-argument gas_charge import
// core/meter.Instrument's rewritten bytecode calls at every metered-block
// boundary (core/meter/meter.go's chargeFuncIdx). Charging against the
// invocation's gasnode.Counter traps with GasLimitExceeded on exhaustion,
// exactly as spec.md §4.3 describes the host-side per-message counter.
func (h *Host) registerGasCharge() {
	h.export("gas_charge", func(ctx context.Context, mod api.Module, amount uint32) {
		ext := externalitiesFrom(ctx)
		if err := ext.Charge(common.Gas(amount)); err != nil {
			trap(err)
		}
	})
}
