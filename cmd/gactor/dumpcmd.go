// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"encoding/json"
	"fmt"

	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/gactor/common"
)

var actorFlag = cli.StringFlag{
	Name:  "actor",
	Usage: "hex-encoded actor id to dump",
}

var dumpCommand = cli.Command{
	Action:    dumpProgram,
	Name:      "dump",
	Usage:     "print a program's persisted state",
	ArgsUsage: "",
	Flags: []cli.Flag{
		actorFlag,
	},
	Description: `The dump command loads the program named by --actor from the data
directory and prints its ProgramState as JSON: lifecycle status,
balances, and the collection hashes spec.md §6 persists it under.`,
}

type programStateJSON struct {
	Status            string `json:"status"`
	Inheritor         string `json:"inheritor,omitempty"`
	AllocationsHash   string `json:"allocations_hash,omitempty"`
	PageMapHash       string `json:"page_map_hash,omitempty"`
	MemoryInfix       uint32 `json:"memory_infix,omitempty"`
	Initialized       bool   `json:"initialized"`
	QueueHash         string `json:"queue_hash"`
	WaitlistHash      string `json:"waitlist_hash"`
	StashHash         string `json:"stash_hash"`
	MailboxHash       string `json:"mailbox_hash"`
	ReservationHash   string `json:"reservation_hash"`
	ReducibleBalance  string `json:"reducible_balance"`
	ExecutableBalance string `json:"executable_balance"`
}

func dumpProgram(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	hexActor := ctx.String(actorFlag.Name)
	if hexActor == "" {
		return fmt.Errorf("gactor: --actor is required")
	}
	actor := common.BytesToActorID(common.FromHex(hexActor))

	opened, err := openDataDir(cfg)
	if err != nil {
		return err
	}
	defer opened.Close()

	st, ok, err := opened.store.LoadProgramState(actor)
	if err != nil {
		return fmt.Errorf("gactor: loading program %s: %w", hexActor, err)
	}
	if !ok {
		return fmt.Errorf("gactor: no program state recorded for %s", hexActor)
	}

	out := programStateJSON{
		Status:            st.Status.String(),
		Inheritor:         st.Inheritor.Hex(),
		AllocationsHash:   st.AllocationsHash.Hex(),
		PageMapHash:       st.PageMapHash.Hex(),
		MemoryInfix:       uint32(st.MemoryInfix),
		Initialized:       st.Initialized,
		QueueHash:         st.QueueHash.Hex(),
		WaitlistHash:      st.WaitlistHash.Hex(),
		StashHash:         st.StashHash.Hex(),
		MailboxHash:       st.MailboxHash.Hex(),
		ReservationHash:   st.ReservationHash.Hex(),
		ReducibleBalance:  st.ReducibleBalance.String(),
		ExecutableBalance: st.ExecutableBalance.String(),
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
