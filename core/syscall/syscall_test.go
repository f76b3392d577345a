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
	"errors"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/msgctx"
)

// minimalMemoryWASM is a hand-assembled module exporting a single page of
// linear memory named "memory" and nothing else — just enough for a
// real wazero api.Module to exercise this package's bounds-checked
// memory helpers without a guest program.
var minimalMemoryWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // \0asm, version 1
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 memory, min 1 page
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

func newTestModule(t *testing.T) (context.Context, api.Module) {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	compiled, err := rt.CompileModule(ctx, minimalMemoryWASM)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		t.Fatalf("InstantiateModule: %v", err)
	}
	return ctx, mod
}

func mustNotTrap(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected trap: %v", r)
		}
	}()
	fn()
}

func mustTrap(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected trap %v, got none", want)
		}
		tr, ok := r.(Trap)
		if !ok {
			t.Fatalf("expected Trap panic, got %#v", r)
		}
		if !errors.Is(tr.Err, want) {
			t.Fatalf("trap error = %v, want %v", tr.Err, want)
		}
	}()
	fn()
}

func TestReadWriteBytesRoundTrip(t *testing.T) {
	_, mod := newTestModule(t)
	data := []byte("hello, gactor")
	mustNotTrap(t, func() { writeBytes(mod, 0, data) })

	var got []byte
	mustNotTrap(t, func() { got = readBytes(mod, 0, uint32(len(data))) })
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestReadBytesOutOfBoundsTraps(t *testing.T) {
	_, mod := newTestModule(t)
	mustTrap(t, ErrAccessOutOfBounds, func() {
		readBytes(mod, 1<<20, 32) // far beyond the single allocated page
	})
}

func TestWriteBytesOutOfBoundsTraps(t *testing.T) {
	_, mod := newTestModule(t)
	mustTrap(t, ErrAccessOutOfBounds, func() {
		writeBytes(mod, 1<<20, []byte{1, 2, 3})
	})
}

func TestActorIDRoundTrip(t *testing.T) {
	_, mod := newTestModule(t)
	var id common.ActorID
	id[0], id[31] = 0xAB, 0xCD

	writeActorID(mod, 0, id)
	got := readActorID(mod, 0)
	if got != id {
		t.Fatalf("got %x, want %x", got, id)
	}
}

func TestValue128RoundTrip(t *testing.T) {
	_, mod := newTestModule(t)
	v := common.NewValue128(1_234_567_890)

	writeValue128(mod, 64, v)
	got := readValue128(mod, 64)
	if got != v {
		t.Fatalf("got %v, want %v", got, v)
	}
}

func TestReadOptionalGasAbsent(t *testing.T) {
	_, mod := newTestModule(t)
	if g := readOptionalGas(mod, AbsentPtr); g != nil {
		t.Fatalf("expected nil for AbsentPtr, got %v", *g)
	}
}

func TestReadOptionalGasPresent(t *testing.T) {
	_, mod := newTestModule(t)
	amount := common.Gas(999)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(amount >> (8 * i))
	}
	writeBytes(mod, 0, b)

	got := readOptionalGas(mod, 0)
	if got == nil || *got != amount {
		t.Fatalf("got %v, want %d", got, amount)
	}
}

func TestReadOptionalDelayAbsent(t *testing.T) {
	_, mod := newTestModule(t)
	if d := readOptionalDelay(mod, AbsentPtr); d != nil {
		t.Fatalf("expected nil for AbsentPtr, got %v", *d)
	}
}

func TestEncodeDecodeHandle(t *testing.T) {
	h := msgctx.Handle(7)
	got := decodeHandle(uint32(h))
	if got != h {
		t.Fatalf("got %v, want %v", got, h)
	}
}

// fakeExternalities is a minimal Externalities stand-in exercising only
// the methods the tests below actually call; every other method panics
// so an accidental call surfaces immediately instead of silently no-oping.
type fakeExternalities struct {
	charged      common.Gas
	chargeErr    error
	lastErr      []byte
	lastErrValid bool
	forbidden    map[string]bool
}

func (f *fakeExternalities) Charge(amount common.Gas) error {
	f.charged += amount
	return f.chargeErr
}
func (f *fakeExternalities) SetLastError(err error) uint32 {
	f.lastErr = []byte(err.Error())
	f.lastErrValid = true
	return uint32(len(f.lastErr))
}
func (f *fakeExternalities) ClearLastError() { f.lastErrValid = false }
func (f *fakeExternalities) LastError() ([]byte, bool) {
	return f.lastErr, f.lastErrValid
}
func (f *fakeExternalities) Forbidden(name string) bool { return f.forbidden[name] }

func (f *fakeExternalities) Send(common.ActorID, []byte, common.Value128, *common.Gas, *uint32) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) SendInit() (msgctx.Handle, error)  { panic("not used") }
func (f *fakeExternalities) SendPush(msgctx.Handle, []byte) error { panic("not used") }
func (f *fakeExternalities) SendCommit(msgctx.Handle, common.ActorID, common.Value128, *common.Gas, *uint32) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) Reply([]byte, common.Value128, *common.Gas) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) ReplyPush([]byte) error { panic("not used") }
func (f *fakeExternalities) ReplyCommit(common.Value128, *common.Gas) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) CreateProgram(common.CodeID, []byte, []byte, common.Value128, *common.Gas, *uint32) (common.ActorID, common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) ReservationSend(common.ReservationID, common.ActorID, []byte, common.Value128, *uint32) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) ReservationReply(common.ReservationID, []byte, common.Value128) (common.MessageID, error) {
	panic("not used")
}
func (f *fakeExternalities) Source() common.ActorID       { panic("not used") }
func (f *fakeExternalities) ProgramID() common.ActorID    { panic("not used") }
func (f *fakeExternalities) MessageID() common.MessageID  { panic("not used") }
func (f *fakeExternalities) Origin() common.ActorID       { panic("not used") }
func (f *fakeExternalities) Value() common.Value128       { panic("not used") }
func (f *fakeExternalities) ValueAvailable() common.Value128 { panic("not used") }
func (f *fakeExternalities) PayloadSize() uint32          { panic("not used") }
func (f *fakeExternalities) ReadPayload(uint32, uint32) ([]byte, bool) { panic("not used") }
func (f *fakeExternalities) BlockHeight() common.BlockNumber { panic("not used") }
func (f *fakeExternalities) BlockTimestamp() uint64       { panic("not used") }
func (f *fakeExternalities) GasAvailable() common.Gas     { panic("not used") }
func (f *fakeExternalities) EnvVar(uint32) ([]byte, bool) { panic("not used") }
func (f *fakeExternalities) Random([]byte) (common.BlockNumber, common.Hash) { panic("not used") }
func (f *fakeExternalities) AllocPages(uint32) (uint32, error)   { panic("not used") }
func (f *fakeExternalities) FreePage(uint32) error               { panic("not used") }
func (f *fakeExternalities) FreePageRange(uint32, uint32) error  { panic("not used") }
func (f *fakeExternalities) Wait() error                         { panic("not used") }
func (f *fakeExternalities) WaitFor(uint32) error                { panic("not used") }
func (f *fakeExternalities) WaitUpTo(uint32) error                { panic("not used") }
func (f *fakeExternalities) Wake(common.MessageID, uint32) error { panic("not used") }
func (f *fakeExternalities) Exit(common.ActorID) error           { panic("not used") }
func (f *fakeExternalities) Leave() error                        { panic("not used") }
func (f *fakeExternalities) Panic([]byte) error                  { panic("not used") }
func (f *fakeExternalities) OOMPanic() error                     { panic("not used") }
func (f *fakeExternalities) ReplyDeposit(common.MessageID, common.Gas) error { panic("not used") }
func (f *fakeExternalities) ReserveGas(common.Gas, uint32) (common.ReservationID, error) {
	panic("not used")
}
func (f *fakeExternalities) UnreserveGas(common.ReservationID) error { panic("not used") }

func TestWriteErrorLenSuccessClearsLastError(t *testing.T) {
	ext := &fakeExternalities{lastErrValid: true}
	got := writeErrorLen(ext, nil)
	if got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if ext.lastErrValid {
		t.Fatalf("expected ClearLastError to have run")
	}
}

func TestWriteErrorLenFailureRecordsError(t *testing.T) {
	ext := &fakeExternalities{}
	err := errors.New("boom")
	got := writeErrorLen(ext, err)
	if got == 0 {
		t.Fatalf("expected non-zero error length")
	}
	if !ext.lastErrValid || string(ext.lastErr) != err.Error() {
		t.Fatalf("last error not recorded: %+v", ext)
	}
}

func TestGasChargeWiring(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	host := NewHost(rt)
	host.registerGasCharge()
	mod, err := host.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	ext := &fakeExternalities{}
	callCtx := WithExternalities(ctx, ext)

	fn := mod.ExportedFunction("gas_charge")
	if fn == nil {
		t.Fatalf("gas_charge not exported")
	}
	if _, err := fn.Call(callCtx, 42); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ext.charged != 42 {
		t.Fatalf("charged = %d, want 42", ext.charged)
	}
}

func TestGasChargeTrapsOnInsufficientGas(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	host := NewHost(rt)
	host.registerGasCharge()
	mod, err := host.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	ext := &fakeExternalities{chargeErr: errors.New("gas limit exceeded")}
	callCtx := WithExternalities(ctx, ext)

	fn := mod.ExportedFunction("gas_charge")
	if _, err := fn.Call(callCtx, 1); err == nil {
		t.Fatalf("expected Call to fail from the host function's trap")
	}
}

func TestForbiddenFunctionAlwaysTraps(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	host := NewHost(rt)
	host.registerForbidden()
	mod, err := host.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	ext := &fakeExternalities{}
	callCtx := WithExternalities(ctx, ext)
	fn := mod.ExportedFunction("forbidden_function")
	if _, err := fn.Call(callCtx); err == nil {
		t.Fatalf("expected forbidden_function to trap")
	}
}

func TestForbiddenPolicyBlocksNamedSyscall(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	host := NewHost(rt)
	host.registerGasCharge()
	mod, err := host.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	ext := &fakeExternalities{forbidden: map[string]bool{"gas_charge": true}}
	callCtx := WithExternalities(ctx, ext)
	fn := mod.ExportedFunction("gas_charge")
	if _, err := fn.Call(callCtx, 1); err == nil {
		t.Fatalf("expected gas_charge to trap under Forbidden policy")
	}
	if ext.charged != 0 {
		t.Fatalf("Charge must not run when forbidden, charged = %d", ext.charged)
	}
}
