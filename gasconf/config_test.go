// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gasconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/probechain/gactor/common"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	cfg := Defaults
	cfg.BlockGasAllowance = common.Gas(123456)
	cfg.MaxOutgoingPerInvocation = 7

	out, err := Dump(&cfg)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "gactor.toml")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got := Defaults
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BlockGasAllowance != cfg.BlockGasAllowance {
		t.Fatalf("BlockGasAllowance = %d, want %d", got.BlockGasAllowance, cfg.BlockGasAllowance)
	}
	if got.MaxOutgoingPerInvocation != cfg.MaxOutgoingPerInvocation {
		t.Fatalf("MaxOutgoingPerInvocation = %d, want %d", got.MaxOutgoingPerInvocation, cfg.MaxOutgoingPerInvocation)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Defaults
	if err := Load(filepath.Join(t.TempDir(), "missing.toml"), &cfg); err == nil {
		t.Fatalf("Load(missing file) succeeded, want error")
	}
}

func TestDefaultsMatchPageAlgebraConstants(t *testing.T) {
	if Defaults.RegionCount != 16 {
		t.Fatalf("RegionCount = %d, want 16", Defaults.RegionCount)
	}
	if Defaults.GearPageSize <= 0 || Defaults.WasmPageSize <= 0 {
		t.Fatalf("page size defaults not populated: gear=%d wasm=%d", Defaults.GearPageSize, Defaults.WasmPageSize)
	}
	if Defaults.WasmPageSize%Defaults.GearPageSize != 0 {
		t.Fatalf("wasm page size %d not a multiple of gear page size %d", Defaults.WasmPageSize, Defaults.GearPageSize)
	}
}
