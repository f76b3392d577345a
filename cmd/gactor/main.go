// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command gactor is the thin operator surface named in SPEC_FULL.md §11:
// upload and instrument a guest module, run a single block against a
// directory-backed store, and inspect a program's persisted state. It
// never touches networking, consensus, or key management — those are
// the embedding chain's concern, not this core's.
package main

import (
	"os"
	"sort"

	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/gactor/gasconf"
	"github.com/probechain/gactor/gaslog"
)

func main() {
	app := cli.NewApp()
	app.Name = "gactor"
	app.Usage = "deterministic gas-metered WASM actor runtime operator tool"
	app.Flags = gasconf.Flags
	app.Commands = []cli.Command{
		instrumentCommand,
		runBlockCommand,
		dumpCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.Run(os.Args); err != nil {
		gaslog.Error("gactor: fatal", "err", err)
		os.Exit(1)
	}
}
