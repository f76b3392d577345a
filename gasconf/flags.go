// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gasconf

import (
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/gactor/common"
)

// Flags mirrors cmd/gprobe's node flags, but scoped to exactly the
// parameters this core owns — no networking, consensus, or key-management
// flags are added (those remain out of scope per spec.md §1).
var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the KV store and content-addressed store",
		Value: Defaults.DataDir,
	}
	BlockGasAllowanceFlag = cli.Uint64Flag{
		Name:  "gas.blockallowance",
		Usage: "Total execution gas allowed per block",
		Value: uint64(Defaults.BlockGasAllowance),
	}
	MaxOutgoingFlag = cli.IntFlag{
		Name:  "gas.maxoutgoing",
		Usage: "Maximum outgoing messages committed per invocation",
		Value: Defaults.MaxOutgoingPerInvocation,
	}
	MaxPayloadLenFlag = cli.IntFlag{
		Name:  "gas.maxpayload",
		Usage: "Maximum payload length in bytes, in or out",
		Value: Defaults.MaxPayloadLen,
	}
	InstrumentationVersionFlag = cli.UintFlag{
		Name:  "meter.version",
		Usage: "Instrumentation version stamped onto freshly metered code",
		Value: uint(Defaults.InstrumentationVersion),
	}
	KVCacheMiBFlag = cli.IntFlag{
		Name:  "db.cache",
		Usage: "Megabytes of memory allocated to the KV store's internal cache",
		Value: Defaults.KVCacheMiB,
	}
	KVOpenFilesFlag = cli.IntFlag{
		Name:  "db.handles",
		Usage: "Number of file descriptors allowed to the KV store",
		Value: Defaults.KVOpenFiles,
	}
)

// Flags is the full flag set the cmd/gactor operator binary registers.
var Flags = []cli.Flag{
	ConfigFileFlag,
	DataDirFlag,
	BlockGasAllowanceFlag,
	MaxOutgoingFlag,
	MaxPayloadLenFlag,
	InstrumentationVersionFlag,
	KVCacheMiBFlag,
	KVOpenFilesFlag,
}

// Apply overlays any explicitly-set flag in ctx onto cfg, following the
// teacher's utils.Set*Config pattern of only touching a field when
// ctx.IsSet reports the flag was actually passed (so a TOML file's value
// isn't silently clobbered by a flag's own default).
func Apply(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(DataDirFlag.Name)
	}
	if ctx.GlobalIsSet(BlockGasAllowanceFlag.Name) {
		cfg.BlockGasAllowance = common.Gas(ctx.GlobalUint64(BlockGasAllowanceFlag.Name))
	}
	if ctx.GlobalIsSet(MaxOutgoingFlag.Name) {
		cfg.MaxOutgoingPerInvocation = ctx.GlobalInt(MaxOutgoingFlag.Name)
	}
	if ctx.GlobalIsSet(MaxPayloadLenFlag.Name) {
		cfg.MaxPayloadLen = ctx.GlobalInt(MaxPayloadLenFlag.Name)
	}
	if ctx.GlobalIsSet(InstrumentationVersionFlag.Name) {
		cfg.InstrumentationVersion = uint32(ctx.GlobalUint(InstrumentationVersionFlag.Name))
	}
	if ctx.GlobalIsSet(KVCacheMiBFlag.Name) {
		cfg.KVCacheMiB = ctx.GlobalInt(KVCacheMiBFlag.Name)
	}
	if ctx.GlobalIsSet(KVOpenFilesFlag.Name) {
		cfg.KVOpenFiles = ctx.GlobalInt(KVOpenFilesFlag.Name)
	}
}
