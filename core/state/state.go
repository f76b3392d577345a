// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package state implements spec.md §3's program state model: the tagged
// Active/Exited/Terminated envelope, its content-hash links to the
// program's allocations, memory page map, queue, waitlist, dispatch
// stash, and mailbox, and the 16-region page map partition (spec.md
// §3's "Memory page map").
//
// ProgramState's encode/decode discipline follows the teacher's own
// account-envelope dump conventions (teacher_state_ref/dump.go,
// core/rawdb's fixed-layout accessors): a compact, hand-written binary
// codec rather than a reflective one, because content-addressing
// requires byte-exact determinism.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probechain/gactor/common"
)

// Status is the program's lifecycle tag (spec.md §3 Lifecycles).
type Status uint8

const (
	StatusActive Status = iota
	StatusExited
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExited:
		return "exited"
	case StatusTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MemoryInfix distinguishes memory epochs across resets of the same
// program (spec.md §3): an opaque scalar the core never interprets.
type MemoryInfix uint32

// Errors returned by ProgramState's lifecycle transitions.
var (
	// ErrNotActive is returned by any operation that requires the
	// program still be in the Active state.
	ErrNotActive = errors.New("state: program is not active")
)

// ProgramState is the per-program envelope of spec.md §3: Active carries
// allocations/page-map hashes, a memory infix, and an initialized flag;
// Exited/Terminated instead carry only an inheritor. Every variant
// carries the shared queue/waitlist/stash/mailbox/reservation content
// hashes and the two balances. ReservationHash is SPEC_FULL.md §4.8's
// addition, carried alongside the other three map hashes the same way.
type ProgramState struct {
	Status    Status
	Inheritor common.ActorID // meaningful only when Status != StatusActive

	// Active-only fields. Left zero once the program leaves StatusActive.
	AllocationsHash common.Hash
	PageMapHash     common.Hash
	MemoryInfix     MemoryInfix
	Initialized     bool

	// Carried in every variant.
	QueueHash       common.Hash
	WaitlistHash    common.Hash
	StashHash       common.Hash
	MailboxHash     common.Hash
	ReservationHash common.Hash

	ReducibleBalance  common.Value128
	ExecutableBalance common.Value128
}

// NewActiveProgramState returns the zero Active state a program begins
// life in when created by a ProgramCreated event (spec.md §3 Lifecycles).
func NewActiveProgramState() *ProgramState {
	return &ProgramState{Status: StatusActive}
}

// IsActive reports whether the program can still execute messages.
func (s *ProgramState) IsActive() bool { return s.Status == StatusActive }

// MarkInitialized records that the program's init entry point has run
// to completion without trapping. Calling it on a non-active program, or
// twice, is a caller bug (the runner checks IsActive/Initialized before
// selecting the init entry point per spec.md §4.6e) and is reported
// rather than silently accepted.
func (s *ProgramState) MarkInitialized() error {
	if !s.IsActive() {
		return ErrNotActive
	}
	s.Initialized = true
	return nil
}

// Exit transitions an Active program to Exited, naming inheritor as the
// recipient of its residual balance (spec.md §3 Lifecycles, the explicit
// `exit` syscall path of §4.4/§4.7). Once non-Active, no further message
// executes against the program.
func (s *ProgramState) Exit(inheritor common.ActorID) error {
	if !s.IsActive() {
		return ErrNotActive
	}
	s.transitionTo(StatusExited, inheritor)
	return nil
}

// Terminate transitions an Active program to Terminated: the outcome of
// a trap during the `init` entry point (spec.md §3 Lifecycles, §4.6b).
func (s *ProgramState) Terminate(inheritor common.ActorID) error {
	if !s.IsActive() {
		return ErrNotActive
	}
	s.transitionTo(StatusTerminated, inheritor)
	return nil
}

func (s *ProgramState) transitionTo(status Status, inheritor common.ActorID) {
	s.Status = status
	s.Inheritor = inheritor
	s.AllocationsHash = common.Hash{}
	s.PageMapHash = common.Hash{}
	s.MemoryInfix = 0
	s.Initialized = false
}

// wire layout tags, one byte, matching Status's own values — kept as a
// separate constant set so a future reordering of Status doesn't
// silently change the persisted encoding.
const (
	wireActive     byte = 0
	wireExited     byte = 1
	wireTerminated byte = 2
)

// MarshalBinary implements a compact, deterministic encoding: a status
// byte, the status-specific fields, then the shared queue/waitlist/
// stash/mailbox/reservation hashes and the two balances. Field order and widths are
// fixed — this is a storage format, not a debugging aid.
func (s *ProgramState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+32+32+4+1+32*5+16*2)
	switch s.Status {
	case StatusActive:
		buf = append(buf, wireActive)
		buf = append(buf, s.AllocationsHash[:]...)
		buf = append(buf, s.PageMapHash[:]...)
		var infix [4]byte
		binary.LittleEndian.PutUint32(infix[:], uint32(s.MemoryInfix))
		buf = append(buf, infix[:]...)
		if s.Initialized {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case StatusExited:
		buf = append(buf, wireExited)
		buf = append(buf, s.Inheritor[:]...)
	case StatusTerminated:
		buf = append(buf, wireTerminated)
		buf = append(buf, s.Inheritor[:]...)
	default:
		return nil, fmt.Errorf("state: unknown status %d", s.Status)
	}

	buf = append(buf, s.QueueHash[:]...)
	buf = append(buf, s.WaitlistHash[:]...)
	buf = append(buf, s.StashHash[:]...)
	buf = append(buf, s.MailboxHash[:]...)
	buf = append(buf, s.ReservationHash[:]...)

	reducible := s.ReducibleBalance.Bytes16()
	buf = append(buf, reducible[:]...)
	executable := s.ExecutableBalance.Bytes16()
	buf = append(buf, executable[:]...)

	return buf, nil
}

// UnmarshalBinary is MarshalBinary's inverse.
func (s *ProgramState) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("state: empty program state encoding")
	}
	off := 0
	tag := data[off]
	off++

	*s = ProgramState{}
	switch tag {
	case wireActive:
		s.Status = StatusActive
		if len(data) < off+32+32+4+1 {
			return fmt.Errorf("state: truncated active program state")
		}
		s.AllocationsHash.SetBytes(data[off : off+32])
		off += 32
		s.PageMapHash.SetBytes(data[off : off+32])
		off += 32
		s.MemoryInfix = MemoryInfix(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		s.Initialized = data[off] != 0
		off++
	case wireExited:
		s.Status = StatusExited
		if len(data) < off+32 {
			return fmt.Errorf("state: truncated exited program state")
		}
		s.Inheritor.SetBytes(data[off : off+32])
		off += 32
	case wireTerminated:
		s.Status = StatusTerminated
		if len(data) < off+32 {
			return fmt.Errorf("state: truncated terminated program state")
		}
		s.Inheritor.SetBytes(data[off : off+32])
		off += 32
	default:
		return fmt.Errorf("state: unknown status tag %d", tag)
	}

	if len(data) < off+32*5+16*2 {
		return fmt.Errorf("state: truncated program state envelope")
	}
	s.QueueHash.SetBytes(data[off : off+32])
	off += 32
	s.WaitlistHash.SetBytes(data[off : off+32])
	off += 32
	s.StashHash.SetBytes(data[off : off+32])
	off += 32
	s.MailboxHash.SetBytes(data[off : off+32])
	off += 32
	s.ReservationHash.SetBytes(data[off : off+32])
	off += 32

	var reducible, executable [16]byte
	copy(reducible[:], data[off:off+16])
	off += 16
	copy(executable[:], data[off:off+16])
	off += 16
	s.ReducibleBalance = common.Value128FromBytes16(reducible)
	s.ExecutableBalance = common.Value128FromBytes16(executable)

	return nil
}

// Hash returns the content hash of the program state's canonical
// encoding, the value under which it is stored in the CAS facade (§6).
func (s *ProgramState) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := s.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
