// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gasdb

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/probechain/gactor/common"
)

// ContentStore is a CASStore layered over a KeyValueStore under a fixed
// EntityKind prefix, fronted by an in-memory clean-object cache exactly
// as the teacher's trie.Database fronts disk node reads
// (teacher_trie_ref/wrap_database.go's db.cleans Get/Set pair) — content
// hashes never change their value once written, so a clean read can be
// served from cache indefinitely without invalidation.
type ContentStore struct {
	kv     KeyValueStore
	kind   EntityKind
	hasher common.Hasher
	cleans *fastcache.Cache // nil disables the cache
}

// NewContentStore creates a ContentStore. cleanCacheBytes of 0 disables
// the clean cache.
func NewContentStore(kv KeyValueStore, kind EntityKind, hasher common.Hasher, cleanCacheBytes int) *ContentStore {
	if hasher == nil {
		hasher = common.DefaultHasher
	}
	s := &ContentStore{kv: kv, kind: kind, hasher: hasher}
	if cleanCacheBytes > 0 {
		s.cleans = fastcache.New(cleanCacheBytes)
	}
	return s
}

// Write stores data under its content hash and returns the hash.
// Writing the same bytes twice is a no-op past the first call (the key
// this produces is identical), matching the trait's documented
// determinism.
func (s *ContentStore) Write(data []byte) (common.Hash, error) {
	hash := s.hasher.Hash(data)
	key := Key(s.kind, hash.Bytes())
	if err := s.kv.Put(key, data); err != nil {
		return common.Hash{}, err
	}
	if s.cleans != nil {
		s.cleans.Set(hash.Bytes(), data)
	}
	return hash, nil
}

// Read returns the bytes written under hash, if any.
func (s *ContentStore) Read(hash common.Hash) ([]byte, bool, error) {
	if s.cleans != nil {
		if enc := s.cleans.Get(nil, hash.Bytes()); enc != nil {
			return enc, true, nil
		}
	}
	key := Key(s.kind, hash.Bytes())
	data, ok, err := s.kv.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if s.cleans != nil {
		s.cleans.Set(hash.Bytes(), data)
	}
	return data, true, nil
}

// Contains reports whether hash has been written, without materializing
// its bytes.
func (s *ContentStore) Contains(hash common.Hash) (bool, error) {
	if s.cleans != nil && s.cleans.Has(hash.Bytes()) {
		return true, nil
	}
	key := Key(s.kind, hash.Bytes())
	return s.kv.Contains(key)
}
