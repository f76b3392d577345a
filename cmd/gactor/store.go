// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/runner"
	"github.com/probechain/gactor/core/schedule"
	"github.com/probechain/gactor/gasconf"
	"github.com/probechain/gactor/gasdb/leveldb"
)

// openedStore bundles the handles every data-touching command needs, so
// each command's Action can defer a single Close.
type openedStore struct {
	cfg      *gasconf.Config
	db       *leveldb.Database
	store    *runner.ProgramStore
	schedule *schedule.Schedule
}

func (o *openedStore) Close() error {
	return o.db.Close()
}

// openDataDir opens cfg.DataDir's on-disk KV store and wraps it with the
// ProgramStore and Schedule facades every command needs, using the same
// cache/handle budgets the runtime itself would use (gasconf.Config).
func openDataDir(cfg *gasconf.Config) (*openedStore, error) {
	db, err := leveldb.New(cfg.DataDir, cfg.KVCacheMiB, cfg.KVOpenFiles)
	if err != nil {
		return nil, fmt.Errorf("gactor: opening data dir %s: %w", cfg.DataDir, err)
	}
	store, err := runner.NewProgramStore(db, common.DefaultHasher, cfg.CASCleanCacheBytes, cfg.InstrumentedCodeCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("gactor: building program store: %w", err)
	}
	sched, err := schedule.New(db, cfg.ScheduleCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("gactor: building schedule: %w", err)
	}
	return &openedStore{cfg: cfg, db: db, store: store, schedule: sched}, nil
}
