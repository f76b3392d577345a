// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package runner implements spec.md §4.6's per-block loop: draining the
// schedule and message queue, instrumenting and executing program code
// inside a wazero guest, and reconciling each invocation's effects back
// into persisted program state.
package runner

import (
	"encoding/binary"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/core/pages"
	"github.com/probechain/gactor/core/queue"
	"github.com/probechain/gactor/core/state"
	"github.com/probechain/gactor/gasdb"
)

// globalQueueTail is the fixed key_tail under which the single
// runner-drained message queue lives; spec.md §3's Queue entity is
// otherwise a per-program concept that this core never populates (see
// core/queue.Queue.MarshalBinary's own doc comment).
var globalQueueTail = []byte("global")

// DefaultInstrumentedCacheSize mirrors gasconf.Defaults.InstrumentedCodeCacheSize,
// used when a caller constructs a ProgramStore outside of gasconf wiring
// (tests, one-off tools).
const DefaultInstrumentedCacheSize = 256

// CodeMetadata is the per-code-id sizing record spec.md §6 calls
// `code_id→metadata`: the static/max page counts needed to build a
// pages.Context for a freshly created program, decided at upload time
// and immutable thereafter.
type CodeMetadata struct {
	StaticPages pages.Index
	MaxPages    pages.Index
}

func (m CodeMetadata) marshalBinary() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.StaticPages))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.MaxPages))
	return buf
}

func unmarshalCodeMetadata(data []byte) (CodeMetadata, error) {
	if len(data) < 8 {
		return CodeMetadata{}, fmt.Errorf("runner: truncated code metadata")
	}
	return CodeMetadata{
		StaticPages: pages.Index(binary.LittleEndian.Uint32(data[0:4])),
		MaxPages:    pages.Index(binary.LittleEndian.Uint32(data[4:8])),
	}, nil
}

// ProgramStore is the runner's persistence facade over a single KV
// store: program envelopes, the program→code_id index, code metadata
// and validity, instrumented code (LRU-fronted per SPEC_FULL.md §4.6),
// and every per-program collection (waitlist, stash, mailbox,
// reservations, page map, allocations) named in spec.md §3/§6.
//
// KindPayload is reused as the single generic content-addressed blob
// kind for oversized message payloads (queue.NewPayloadLookup's own
// cas argument), original code (a program's CodeID is defined to equal
// the content hash of its uploaded bytes), gear-page data, and encoded
// allocation sets: all four are raw, immutable, content-addressed byte
// blobs, and sharing
// one kind only means their keys share a keyspace — a hash collision
// between unrelated blobs of identical bytes is the dedup the CAS
// trait is supposed to provide, not a defect.
type ProgramStore struct {
	kv           gasdb.KeyValueStore
	blobs        *gasdb.ContentStore
	hasher       common.Hasher
	instrumented *lru.Cache
}

// NewProgramStore builds a ProgramStore over kv. cleanCacheBytes fronts
// the content-addressed blob store (0 disables it); instrumentedCacheSize
// fronts the (runtime_version, code_id)→instrumented_code KV lookup
// (<=0 uses DefaultInstrumentedCacheSize).
func NewProgramStore(kv gasdb.KeyValueStore, hasher common.Hasher, cleanCacheBytes, instrumentedCacheSize int) (*ProgramStore, error) {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	if instrumentedCacheSize <= 0 {
		instrumentedCacheSize = DefaultInstrumentedCacheSize
	}
	cache, err := lru.New(instrumentedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("runner: building instrumented-code cache: %w", err)
	}
	return &ProgramStore{
		kv:           kv,
		blobs:        gasdb.NewContentStore(kv, gasdb.KindPayload, hasher, cleanCacheBytes),
		hasher:       hasher,
		instrumented: cache,
	}, nil
}

// CAS exposes the content-addressed blob store, for building a
// msgctx.MessageContext (which needs a gasdb.CASStore for its own
// PayloadLookup encoding) against the same backing store.
func (s *ProgramStore) CAS() gasdb.CASStore { return s.blobs }

// Hasher returns the store's hashing oracle, for constructing a fresh
// state.PageMap consistent with how this store hashes its own entries.
func (s *ProgramStore) Hasher() common.Hasher { return s.hasher }

// LoadProgramState returns a program's persisted envelope, or
// (nil, false, nil) if the program has never been written.
func (s *ProgramStore) LoadProgramState(program common.ActorID) (*state.ProgramState, bool, error) {
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindProgramState, program.Bytes()))
	if err != nil || !ok {
		return nil, ok, err
	}
	var st state.ProgramState
	if err := st.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("runner: decoding program state for %s: %w", program, err)
	}
	return &st, true, nil
}

// SaveProgramState persists a program's envelope, keyed directly by
// program id rather than by the envelope's own content hash — spec.md
// §6 names no explicit program→state indirection table, and the
// runner always knows which program it is reconciling, so a direct
// point write is simpler than a hash-then-index scheme that would
// serve no reader.
func (s *ProgramStore) SaveProgramState(program common.ActorID, st *state.ProgramState) error {
	enc, err := st.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindProgramState, program.Bytes()), enc)
}

// CodeIDFor resolves a program's current code id.
func (s *ProgramStore) CodeIDFor(program common.ActorID) (common.CodeID, bool, error) {
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindProgramCodeIndex, program.Bytes()))
	if err != nil || !ok {
		return common.CodeID{}, ok, err
	}
	return common.BytesToCodeID(data), true, nil
}

// SetCodeIDFor records the code id a program runs.
func (s *ProgramStore) SetCodeIDFor(program common.ActorID, codeID common.CodeID) error {
	return s.kv.Put(gasdb.Key(gasdb.KindProgramCodeIndex, program.Bytes()), codeID.Bytes())
}

// OriginalCode returns the uploaded, not-yet-instrumented wasm bytes for
// codeID. CodeID is defined as the content hash of those bytes, so this
// is a direct CAS read.
func (s *ProgramStore) OriginalCode(codeID common.CodeID) ([]byte, bool, error) {
	return s.blobs.Read(common.Hash(codeID))
}

// StoreOriginalCode writes code to the CAS and returns its id (the
// content hash of code).
func (s *ProgramStore) StoreOriginalCode(code []byte) (common.CodeID, error) {
	h, err := s.blobs.Write(code)
	if err != nil {
		return common.CodeID{}, err
	}
	return common.CodeID(h), nil
}

// CodeMetadataFor returns the static/max page sizing recorded for codeID
// at upload time.
func (s *ProgramStore) CodeMetadataFor(codeID common.CodeID) (CodeMetadata, bool, error) {
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindCodeMetadata, codeID.Bytes()))
	if err != nil || !ok {
		return CodeMetadata{}, ok, err
	}
	cm, err := unmarshalCodeMetadata(data)
	if err != nil {
		return CodeMetadata{}, false, err
	}
	return cm, true, nil
}

// SetCodeMetadataFor records codeID's sizing, set once at upload time.
func (s *ProgramStore) SetCodeMetadataFor(codeID common.CodeID, cm CodeMetadata) error {
	return s.kv.Put(gasdb.Key(gasdb.KindCodeMetadata, codeID.Bytes()), cm.marshalBinary())
}

// CodeValidated reports whether codeID has already passed the §4.1
// instrumentation/validation pass, and if so with what result, so the
// runner never re-validates known-bad or known-good code.
func (s *ProgramStore) CodeValidated(codeID common.CodeID) (valid bool, known bool, err error) {
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindCodeValidity, codeID.Bytes()))
	if err != nil || !ok {
		return false, ok, err
	}
	return len(data) > 0 && data[0] != 0, true, nil
}

// SetCodeValidated records codeID's validation outcome.
func (s *ProgramStore) SetCodeValidated(codeID common.CodeID, valid bool) error {
	b := byte(0)
	if valid {
		b = 1
	}
	return s.kv.Put(gasdb.Key(gasdb.KindCodeValidity, codeID.Bytes()), []byte{b})
}

func instrumentedCacheKey(version uint32, codeID common.CodeID) string {
	return string(gasdb.InstrumentedCodeTail(version, codeID))
}

// InstrumentedCode returns the §4.1-transformed bytes cached for
// (version, codeID), checking the warm LRU before the KV store.
func (s *ProgramStore) InstrumentedCode(version uint32, codeID common.CodeID) ([]byte, bool, error) {
	key := instrumentedCacheKey(version, codeID)
	if v, ok := s.instrumented.Get(key); ok {
		return v.([]byte), true, nil
	}
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindInstrumentedCode, gasdb.InstrumentedCodeTail(version, codeID)))
	if err != nil || !ok {
		return nil, ok, err
	}
	s.instrumented.Add(key, data)
	return data, true, nil
}

// StoreInstrumentedCode persists a freshly instrumented module and warms
// the cache with it.
func (s *ProgramStore) StoreInstrumentedCode(version uint32, codeID common.CodeID, code []byte) error {
	if err := s.kv.Put(gasdb.Key(gasdb.KindInstrumentedCode, gasdb.InstrumentedCodeTail(version, codeID)), code); err != nil {
		return err
	}
	s.instrumented.Add(instrumentedCacheKey(version, codeID), code)
	return nil
}

// LoadWaitlist returns program's waitlist, empty if never written.
func (s *ProgramStore) LoadWaitlist(program common.ActorID) (*queue.Waitlist, error) {
	w := queue.NewWaitlist()
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindWaitlistEntry, program.Bytes()))
	if err != nil || !ok {
		return w, err
	}
	if err := w.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("runner: decoding waitlist for %s: %w", program, err)
	}
	return w, nil
}

// SaveWaitlist persists program's whole waitlist as a single KV row —
// the collection is bounded by how many dispatches one program can have
// in flight at once, and the runner already holds the complete
// structure in memory at reconciliation time, so there is no benefit to
// fragmenting it into per-message rows.
func (s *ProgramStore) SaveWaitlist(program common.ActorID, w *queue.Waitlist) error {
	enc, err := w.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindWaitlistEntry, program.Bytes()), enc)
}

// LoadStash returns program's dispatch stash, empty if never written.
func (s *ProgramStore) LoadStash(program common.ActorID) (*queue.DispatchStash, error) {
	st := queue.NewDispatchStash()
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindStashEntry, program.Bytes()))
	if err != nil || !ok {
		return st, err
	}
	if err := st.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("runner: decoding stash for %s: %w", program, err)
	}
	return st, nil
}

// SaveStash persists program's dispatch stash, same whole-row rationale
// as SaveWaitlist.
func (s *ProgramStore) SaveStash(program common.ActorID, st *queue.DispatchStash) error {
	enc, err := st.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindStashEntry, program.Bytes()), enc)
}

// LoadMailbox returns program's mailbox, empty if never written.
func (s *ProgramStore) LoadMailbox(program common.ActorID) (*queue.Mailbox, error) {
	m := queue.NewMailbox()
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindMailboxEntry, program.Bytes()))
	if err != nil || !ok {
		return m, err
	}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("runner: decoding mailbox for %s: %w", program, err)
	}
	return m, nil
}

// SaveMailbox persists program's mailbox, same whole-row rationale as
// SaveWaitlist.
func (s *ProgramStore) SaveMailbox(program common.ActorID, m *queue.Mailbox) error {
	enc, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindMailboxEntry, program.Bytes()), enc)
}

// LoadReservations returns program's gas-reservation map (SPEC_FULL.md
// §4.8), empty if never written.
func (s *ProgramStore) LoadReservations(program common.ActorID) (*queue.ReservationMap, error) {
	r := queue.NewReservationMap()
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindReservationEntry, program.Bytes()))
	if err != nil || !ok {
		return r, err
	}
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("runner: decoding reservations for %s: %w", program, err)
	}
	return r, nil
}

// SaveReservations persists program's reservation map, same whole-row
// rationale as SaveWaitlist.
func (s *ProgramStore) SaveReservations(program common.ActorID, r *queue.ReservationMap) error {
	enc, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindReservationEntry, program.Bytes()), enc)
}

// LoadQueue returns the single global message queue the runner drains,
// empty if never written (the chain's genesis block).
func (s *ProgramStore) LoadQueue() (*queue.Queue, error) {
	q := queue.NewQueue()
	data, ok, err := s.kv.Get(gasdb.Key(gasdb.KindQueueDispatch, globalQueueTail))
	if err != nil || !ok {
		return q, err
	}
	if err := q.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("runner: decoding global queue: %w", err)
	}
	return q, nil
}

// SaveQueue persists the global message queue's remaining contents at
// the end of a block.
func (s *ProgramStore) SaveQueue(q *queue.Queue) error {
	enc, err := q.MarshalBinary()
	if err != nil {
		return err
	}
	return s.kv.Put(gasdb.Key(gasdb.KindQueueDispatch, globalQueueTail), enc)
}

func regionKey(program common.ActorID, ri state.RegionIndex) []byte {
	tail := make([]byte, 0, common.IDLength+1)
	tail = append(tail, program.Bytes()...)
	tail = append(tail, byte(ri))
	return gasdb.Key(gasdb.KindPageMapRegion, tail)
}

func marshalGearMap(entries map[pages.GearIndex]common.Hash) []byte {
	indices := make([]pages.GearIndex, 0, len(entries))
	for idx := range entries {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	buf := make([]byte, 4, 4+len(indices)*(4+common.IDLength))
	binary.LittleEndian.PutUint32(buf, uint32(len(indices)))
	for _, idx := range indices {
		var idxBytes [4]byte
		binary.LittleEndian.PutUint32(idxBytes[:], uint32(idx))
		buf = append(buf, idxBytes[:]...)
		h := entries[idx]
		buf = append(buf, h[:]...)
	}
	return buf
}

func unmarshalGearMap(data []byte) (map[pages.GearIndex]common.Hash, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("runner: truncated gear map count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	out := make(map[pages.GearIndex]common.Hash, count)
	for i := 0; i < count; i++ {
		if len(data) < off+4+common.IDLength {
			return nil, fmt.Errorf("runner: truncated gear map entry %d", i)
		}
		idx := pages.GearIndex(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		var h common.Hash
		h.SetBytes(data[off : off+common.IDLength])
		off += common.IDLength
		out[idx] = h
	}
	return out, nil
}

// LoadPageMap rebuilds program's full 16-region page map from its
// persisted regions, empty regions simply absent from storage.
func (s *ProgramStore) LoadPageMap(program common.ActorID) (*state.PageMap, error) {
	pm := state.NewPageMap(s.hasher)
	for ri := 0; ri < state.NumRegions; ri++ {
		data, ok, err := s.kv.Get(regionKey(program, state.RegionIndex(ri)))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries, err := unmarshalGearMap(data)
		if err != nil {
			return nil, fmt.Errorf("runner: decoding page map region %d for %s: %w", ri, program, err)
		}
		pm.LoadRegion(state.RegionIndex(ri), entries)
	}
	return pm, nil
}

// SavePageMap persists only the regions named in touched, the set
// WriteBatch/RemoveBatch returned for the invocation just reconciled.
func (s *ProgramStore) SavePageMap(program common.ActorID, pm *state.PageMap, touched []state.RegionIndex) error {
	for _, ri := range touched {
		if err := s.kv.Put(regionKey(program, ri), marshalGearMap(pm.RegionEntries(ri))); err != nil {
			return err
		}
	}
	return nil
}

// ReadPageData resolves the content-addressed bytes of a single gear
// page.
func (s *ProgramStore) ReadPageData(hash common.Hash) ([]byte, bool, error) {
	return s.blobs.Read(hash)
}

// WritePageData stores a gear page's content, returning its hash (the
// value PageMap.WriteBatch records for that gear index).
func (s *ProgramStore) WritePageData(data []byte) (common.Hash, error) {
	return s.blobs.Write(data)
}

// marshalAllocations encodes an allocations context's sizing and
// allocated-page set for content-addressed storage: ProgramState's
// AllocationsHash is the hash of this encoding.
func marshalAllocations(c *pages.Context) []byte {
	allocated := c.AllocatedPages()
	buf := make([]byte, 12, 12+len(allocated)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.StaticPages()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.MemorySize()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.MaxPages()))
	for _, p := range allocated {
		var pb [4]byte
		binary.LittleEndian.PutUint32(pb[:], uint32(p))
		buf = append(buf, pb[:]...)
	}
	return buf
}

func unmarshalAllocations(data []byte) (*pages.Context, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("runner: truncated allocations blob")
	}
	staticPages := pages.Index(binary.LittleEndian.Uint32(data[0:4]))
	memorySize := pages.Index(binary.LittleEndian.Uint32(data[4:8]))
	maxPages := pages.Index(binary.LittleEndian.Uint32(data[8:12]))
	rest := data[12:]
	if len(rest)%4 != 0 {
		return nil, fmt.Errorf("runner: truncated allocations page list")
	}
	allocated := make([]pages.Index, len(rest)/4)
	for i := range allocated {
		allocated[i] = pages.Index(binary.LittleEndian.Uint32(rest[i*4 : i*4+4]))
	}
	c := pages.NewContext(staticPages, memorySize, maxPages)
	c.RestoreAllocated(allocated)
	c.ClearDirty()
	return c, nil
}

// LoadAllocations resolves an allocations context from its content hash,
// or a fresh empty context sized (staticPages, staticPages, maxPages)
// when hash is the zero hash (a program that has never allocated).
func (s *ProgramStore) LoadAllocations(hash common.Hash, staticPages, maxPages pages.Index) (*pages.Context, error) {
	if hash.IsZero() {
		return pages.NewContext(staticPages, staticPages, maxPages), nil
	}
	data, ok, err := s.blobs.Read(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("runner: allocations blob %s missing from CAS", hash)
	}
	return unmarshalAllocations(data)
}

// SaveAllocations writes an allocations context's current encoding and
// returns its content hash, the value stored as ProgramState.AllocationsHash.
func (s *ProgramStore) SaveAllocations(c *pages.Context) (common.Hash, error) {
	return s.blobs.Write(marshalAllocations(c))
}

// PageMapHash writes nothing by itself; it is a thin convenience
// wrapper computing the content hash ProgramState.PageMapHash should
// carry for pm, kept alongside the other Save* helpers for symmetry.
func (s *ProgramStore) PageMapHash(pm *state.PageMap) common.Hash {
	return pm.Hash()
}
