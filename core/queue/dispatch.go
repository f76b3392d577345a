// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package queue implements spec.md §3's message queue/dispatch, waitlist,
// dispatch stash, and mailbox, plus the supplemented reply-code taxonomy
// and reservation map of SPEC_FULL.md §4.7/§4.8.
//
// Every entity follows the same hand-written fixed-layout binary codec
// discipline as core/state.ProgramState (teacher_state_ref/dump.go,
// core/rawdb's accessor style): content-addressing requires exact,
// canonical byte-for-byte determinism.
package queue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/gasdb"
)

// DirectPayloadThreshold is spec.md §3's 1 KiB cutoff: payloads smaller
// than this are carried inline in the dispatch; payloads of this size or
// larger are written to the content-addressed store and referenced by
// hash.
const DirectPayloadThreshold = 1024

// Kind discriminates a dispatch's processing context (spec.md §3).
type Kind uint8

const (
	KindInit Kind = iota
	KindHandle
	KindReply
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindHandle:
		return "handle"
	case KindReply:
		return "reply"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// ErrPayloadTooLarge is returned by NewPayloadLookup's direct encoding
// path guard — callers must route anything at or above the threshold
// through a CASStore instead.
var ErrPayloadTooLarge = errors.New("queue: direct payload exceeds 64KiB wire limit")

// directPayloadWireLimit bounds the 2-byte length prefix used to encode a
// direct payload on the wire (spec.md §6 names no explicit bound beyond
// the 1KiB store/inline split; this is the codec's own ceiling).
const directPayloadWireLimit = 1<<16 - 1

// PayloadLookup is spec.md §3/§6's "direct bytes or a stored-payload
// hash" tagged payload reference.
type PayloadLookup struct {
	Stored bool
	Direct []byte      // valid iff !Stored
	Hash   common.Hash // valid iff Stored
}

// NewPayloadLookup builds the lookup form for data, storing it in cas
// and referencing it by hash when data is at or above
// DirectPayloadThreshold, carrying it inline otherwise.
func NewPayloadLookup(data []byte, cas gasdb.CASStore) (PayloadLookup, error) {
	if len(data) < DirectPayloadThreshold {
		if len(data) > directPayloadWireLimit {
			return PayloadLookup{}, ErrPayloadTooLarge
		}
		return PayloadLookup{Direct: append([]byte(nil), data...)}, nil
	}
	hash, err := cas.Write(data)
	if err != nil {
		return PayloadLookup{}, err
	}
	return PayloadLookup{Stored: true, Hash: hash}, nil
}

// Resolve returns the payload's bytes, fetching from cas when the
// payload is stored rather than carried inline.
func (p PayloadLookup) Resolve(cas gasdb.CASStore) ([]byte, error) {
	if !p.Stored {
		return p.Direct, nil
	}
	data, ok, err := cas.Read(p.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("queue: stored payload %s missing from CAS", p.Hash)
	}
	return data, nil
}

const (
	payloadTagDirect byte = 0
	payloadTagStored byte = 1
)

func (p PayloadLookup) marshal(buf []byte) ([]byte, error) {
	if p.Stored {
		buf = append(buf, payloadTagStored)
		buf = append(buf, p.Hash[:]...)
		return buf, nil
	}
	if len(p.Direct) > directPayloadWireLimit {
		return nil, ErrPayloadTooLarge
	}
	buf = append(buf, payloadTagDirect)
	var length [2]byte
	binary.LittleEndian.PutUint16(length[:], uint16(len(p.Direct)))
	buf = append(buf, length[:]...)
	buf = append(buf, p.Direct...)
	return buf, nil
}

func unmarshalPayloadLookup(data []byte, off int) (PayloadLookup, int, error) {
	if len(data) < off+1 {
		return PayloadLookup{}, 0, fmt.Errorf("queue: truncated payload lookup tag")
	}
	tag := data[off]
	off++
	switch tag {
	case payloadTagDirect:
		if len(data) < off+2 {
			return PayloadLookup{}, 0, fmt.Errorf("queue: truncated payload length")
		}
		length := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if len(data) < off+length {
			return PayloadLookup{}, 0, fmt.Errorf("queue: truncated direct payload")
		}
		p := PayloadLookup{Direct: append([]byte(nil), data[off:off+length]...)}
		return p, off + length, nil
	case payloadTagStored:
		if len(data) < off+32 {
			return PayloadLookup{}, 0, fmt.Errorf("queue: truncated payload hash")
		}
		var p PayloadLookup
		p.Stored = true
		p.Hash.SetBytes(data[off : off+32])
		return p, off + 32, nil
	default:
		return PayloadLookup{}, 0, fmt.Errorf("queue: unknown payload lookup tag %d", tag)
	}
}

// ReplyDetails is attached to a dispatch of KindReply, naming the
// message it replies to and the outcome of that prior dispatch (spec.md
// §6 queue-entry layout).
type ReplyDetails struct {
	RepliedTo common.MessageID
	Code      ReplyCode
}

// Dispatch is spec.md §3/§6's queue entry: a message plus its kind,
// routing, value, payload, and optional reply/context-store annotations.
type Dispatch struct {
	MessageID     common.MessageID
	Kind          Kind
	Source        common.ActorID
	Destination   common.ActorID
	Value         common.Value128
	Payload       PayloadLookup
	ReplyDetails  *ReplyDetails // nil when absent
	ContextStore  []byte        // nil when absent
}

// MarshalBinary encodes d per spec.md §6's queue-entry wire layout.
func (d *Dispatch) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 32+1+32+32+16+64)
	buf = append(buf, d.MessageID[:]...)
	buf = append(buf, byte(d.Kind))
	buf = append(buf, d.Source[:]...)
	buf = append(buf, d.Destination[:]...)
	value := d.Value.Bytes16()
	buf = append(buf, value[:]...)

	var err error
	buf, err = d.Payload.marshal(buf)
	if err != nil {
		return nil, err
	}

	if d.ReplyDetails != nil {
		buf = append(buf, 1)
		buf = append(buf, d.ReplyDetails.RepliedTo[:]...)
		var code [4]byte
		binary.LittleEndian.PutUint32(code[:], uint32(d.ReplyDetails.Code))
		buf = append(buf, code[:]...)
	} else {
		buf = append(buf, 0)
	}

	if d.ContextStore != nil {
		buf = append(buf, 1)
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(d.ContextStore)))
		buf = append(buf, length[:]...)
		buf = append(buf, d.ContextStore...)
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

// UnmarshalBinary is MarshalBinary's inverse.
func (d *Dispatch) UnmarshalBinary(data []byte) error {
	if len(data) < 32+1+32+32+16 {
		return fmt.Errorf("queue: truncated dispatch header")
	}
	off := 0
	*d = Dispatch{}

	d.MessageID.SetBytes(data[off : off+32])
	off += 32
	d.Kind = Kind(data[off])
	off++
	d.Source.SetBytes(data[off : off+32])
	off += 32
	d.Destination.SetBytes(data[off : off+32])
	off += 32

	var value [16]byte
	copy(value[:], data[off:off+16])
	off += 16
	d.Value = common.Value128FromBytes16(value)

	payload, next, err := unmarshalPayloadLookup(data, off)
	if err != nil {
		return err
	}
	d.Payload = payload
	off = next

	if len(data) < off+1 {
		return fmt.Errorf("queue: truncated reply-details flag")
	}
	hasReply := data[off] != 0
	off++
	if hasReply {
		if len(data) < off+32+4 {
			return fmt.Errorf("queue: truncated reply details")
		}
		var rd ReplyDetails
		rd.RepliedTo.SetBytes(data[off : off+32])
		off += 32
		rd.Code = ReplyCode(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		d.ReplyDetails = &rd
	}

	if len(data) < off+1 {
		return fmt.Errorf("queue: truncated context-store flag")
	}
	hasContext := data[off] != 0
	off++
	if hasContext {
		if len(data) < off+4 {
			return fmt.Errorf("queue: truncated context-store length")
		}
		length := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+length {
			return fmt.Errorf("queue: truncated context-store blob")
		}
		d.ContextStore = append([]byte(nil), data[off:off+length]...)
		off += length
	}

	return nil
}

// Hash returns the content hash of d's canonical encoding.
func (d *Dispatch) Hash(hasher common.Hasher) (common.Hash, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	enc, err := d.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return hasher.Hash(enc), nil
}
