// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/gactor/gasconf"
)

// loadConfig builds a gasconf.Config starting from gasconf.Defaults,
// overlaying a TOML file named by --config if given, then overlaying
// any flag the operator explicitly set — mirroring
// cmd/gprobe/config.go's makeConfigNode precedence (defaults, then
// file, then flags).
func loadConfig(ctx *cli.Context) (*gasconf.Config, error) {
	cfg := gasconf.Defaults
	if file := ctx.GlobalString(gasconf.ConfigFileFlag.Name); file != "" {
		if err := gasconf.Load(file, &cfg); err != nil {
			return nil, err
		}
	}
	gasconf.Apply(ctx, &cfg)
	return &cfg, nil
}
