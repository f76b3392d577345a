// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gasconf holds the runtime's own configuration: per-block gas
// allowance, per-invocation outgoing/payload limits, the active
// instrumentation version, and storage paths — loaded the way
// cmd/gprobe/config.go loads node configuration, a toml-tagged struct
// overridable by flags.
package gasconf

import (
	"math"
	"time"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/pages"
	"github.com/probechain/gactor/core/state"
)

// Config is the runtime's complete set of operator-tunable parameters.
// Fields outside the DOMAIN STACK's scope (networking, consensus, key
// management) are never added here — those remain out of scope.
type Config struct {
	// DataDir is the directory the KV store and CAS are rooted under.
	DataDir string

	// BlockGasAllowance caps total execution work within a single block
	// (spec.md §5 Backpressure); exceeding it suspends the current
	// dispatch and stops processing for the block.
	BlockGasAllowance common.Gas

	// MaxOutgoingPerInvocation bounds a single invocation's committed
	// outgoing packets (spec.md §4.5).
	MaxOutgoingPerInvocation int

	// MaxPayloadLen bounds a single outgoing or incoming payload's
	// length, independent of the direct/stored CAS split.
	MaxPayloadLen int

	// InstrumentationVersion is compared against a program's cached
	// instrumented code to decide whether re-instrumentation is needed
	// (spec.md §4.6 step c).
	InstrumentationVersion uint32

	// RegionCount is the memory page map's fixed horizontal partition
	// count (spec.md §3); a storage invariant, never overridden at
	// runtime, but named here so operators see it in a config dump.
	RegionCount int `toml:",omitempty"`

	// GearPageSize and WasmPageSize are the two page-size constants the
	// allocations/page-map algebra is built on (spec.md §3); like
	// RegionCount, storage invariants rather than tunables.
	GearPageSize int `toml:",omitempty"`
	WasmPageSize int `toml:",omitempty"`

	// ScheduleCacheSize sizes the warm LRU window of near-future
	// schedule buckets (core/schedule).
	ScheduleCacheSize int

	// InstrumentedCodeCacheSize sizes the LRU cache fronting the
	// (runtime_version, code_id) -> instrumented_code KV lookup
	// (spec.md §6, SPEC_FULL §4.6).
	InstrumentedCodeCacheSize int

	// CASCleanCacheBytes sizes the fastcache fronting content-addressed
	// reads (gasdb.ContentStore).
	CASCleanCacheBytes int

	// KVCacheMiB and KVOpenFiles size the underlying goleveldb handle
	// (gasdb/leveldb.New).
	KVCacheMiB  int
	KVOpenFiles int

	// DelayGranularity is the block-count unit a `delay` syscall
	// parameter is measured in. Always 1 in this core; named for
	// forward compatibility with an embedder using a coarser schedule.
	DelayGranularity uint32 `toml:",omitempty"`

	// ReservationMaxDuration caps the `duration` argument accepted by
	// reserve_gas (SPEC_FULL §4.8).
	ReservationMaxDuration uint32

	// BlockPeriod is informational only, included in config dumps to
	// help an operator reason about how schedule delays map to wall
	// clock; the core itself is block-number-driven, never wall-clock-driven.
	BlockPeriod time.Duration `toml:",omitempty"`
}

// Defaults mirrors the teacher lineage's probeconfig.Defaults: a
// package-level Config literal an embedder starts from and overrides.
var Defaults = Config{
	DataDir:                   "gactor-data",
	BlockGasAllowance:         common.Gas(4_000_000_000),
	MaxOutgoingPerInvocation:  1024,
	MaxPayloadLen:             1 << 20, // 1 MiB
	InstrumentationVersion:    1,
	RegionCount:               state.NumRegions,
	GearPageSize:              pages.GearPageSize,
	WasmPageSize:              pages.WasmPageSize,
	ScheduleCacheSize:         256,
	InstrumentedCodeCacheSize: 256,
	CASCleanCacheBytes:        32 * 1024 * 1024,
	KVCacheMiB:                16,
	KVOpenFiles:               64,
	DelayGranularity:          1,
	ReservationMaxDuration:    math.MaxUint32,
	BlockPeriod:               0,
}
