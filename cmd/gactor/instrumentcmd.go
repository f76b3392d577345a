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
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/gactor/core/meter"
	"github.com/probechain/gactor/core/pages"
	"github.com/probechain/gactor/core/runner"
)

var (
	wasmFileFlag = cli.StringFlag{
		Name:  "wasm",
		Usage: "path to the uploaded guest module's wasm bytes",
	}
	staticPagesFlag = cli.UintFlag{
		Name:  "static-pages",
		Usage: "number of wasm pages the module's data/bss occupies at instantiation",
	}
	maxPagesFlag = cli.UintFlag{
		Name:  "max-pages",
		Usage: "maximum number of wasm pages the module may grow to",
	}
)

var instrumentCommand = cli.Command{
	Action:    instrument,
	Name:      "instrument",
	Usage:     "validate, gas-meter, and upload a guest wasm module",
	ArgsUsage: "",
	Flags: []cli.Flag{
		wasmFileFlag,
		staticPagesFlag,
		maxPagesFlag,
	},
	Description: `The instrument command reads a wasm module from --wasm, rejects it
outright if it uses any floating-point instruction (spec.md §4.1), and
otherwise stores the original bytes, the freshly §4.1-instrumented
bytes, and the module's static/max page sizing under the configured
data directory, keyed by the content hash of the original bytes (its
CodeID). Prints the resulting CodeID on success.`,
}

func instrument(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	path := ctx.String(wasmFileFlag.Name)
	if path == "" {
		return fmt.Errorf("gactor: --wasm is required")
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("gactor: reading %s: %w", path, err)
	}

	instrumented, err := meter.Instrument(wasm, meter.DefaultOptions())
	if err != nil {
		return fmt.Errorf("gactor: instrumenting %s: %w", path, err)
	}

	opened, err := openDataDir(cfg)
	if err != nil {
		return err
	}
	defer opened.Close()

	codeID, err := opened.store.StoreOriginalCode(wasm)
	if err != nil {
		return fmt.Errorf("gactor: storing original code: %w", err)
	}
	if err := opened.store.StoreInstrumentedCode(cfg.InstrumentationVersion, codeID, instrumented); err != nil {
		return fmt.Errorf("gactor: storing instrumented code: %w", err)
	}
	cm := runner.CodeMetadata{
		StaticPages: pages.Index(ctx.Uint(staticPagesFlag.Name)),
		MaxPages:    pages.Index(ctx.Uint(maxPagesFlag.Name)),
	}
	if err := opened.store.SetCodeMetadataFor(codeID, cm); err != nil {
		return fmt.Errorf("gactor: storing code metadata: %w", err)
	}
	if err := opened.store.SetCodeValidated(codeID, true); err != nil {
		return fmt.Errorf("gactor: storing code validity: %w", err)
	}

	fmt.Println(codeID.Hex())
	return nil
}
