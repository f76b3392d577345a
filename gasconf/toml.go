// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gasconf

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/probechain/gactor/gaslog"
)

// tomlSettings mirrors cmd/gprobe/config.go's settings: TOML keys use the
// same names as the Go struct fields, and an unknown field in the file is
// a hard error unless it names a field this core has deliberately
// deprecated, which is logged via gaslog.Warn and ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		id := fmt.Sprintf("%s.%s", rt.String(), field)
		if deprecated(id) {
			gaslog.Warn("config field is deprecated and won't have an effect", "name", id)
			return nil
		}
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func deprecated(field string) bool { return false }

// Load reads a TOML configuration file into cfg, which should already
// hold Defaults so that any field the file omits keeps its default value.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = fmt.Errorf("%s, %w", file, err)
	}
	return err
}

// Dump renders cfg as TOML, matching dumpConfig's output shape in
// cmd/gprobe/config.go.
func Dump(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}
