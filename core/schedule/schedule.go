// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package schedule

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/gasdb"
)

// DefaultCacheSize is the warm working-set size: the number of
// near-future expiry buckets kept resident, mirroring the teacher's own
// block-indexed snapshot cache (consensus/pob/snapshot.go's
// lru.ARCCache). Most reads land in a narrow window of upcoming blocks,
// so a small fixed-size cache captures nearly all traffic without
// needing the two-list ARC policy that snapshot's long-lived validator
// history demands.
const DefaultCacheSize = 256

// Schedule is spec.md §3's block→task-set map: persisted in the KV
// store under gasdb.KindScheduleBucket, fronted by an in-process LRU
// cache of near-future buckets.
//
// Not safe for concurrent use; spec.md §5 assigns it to the runner
// alone.
type Schedule struct {
	kv    gasdb.KeyValueStore
	cache *lru.Cache
}

// New wraps kv as a Schedule with the given warm-cache size.
func New(kv gasdb.KeyValueStore, cacheSize int) (*Schedule, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Schedule{kv: kv, cache: c}, nil
}

func bucketKey(block common.BlockNumber) []byte {
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], uint32(block))
	return gasdb.Key(gasdb.KindScheduleBucket, tail[:])
}

// TasksAt returns the tasks due at block, in insertion order, serving
// from the warm cache when present.
func (s *Schedule) TasksAt(block common.BlockNumber) ([]Task, error) {
	if v, ok := s.cache.Get(block); ok {
		return v.([]Task), nil
	}
	data, ok, err := s.kv.Get(bucketKey(block))
	if err != nil {
		return nil, err
	}
	if !ok {
		s.cache.Add(block, []Task(nil))
		return nil, nil
	}
	tasks, err := unmarshalBucket(data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(block, tasks)
	return tasks, nil
}

// Insert appends t to block's bucket, preserving insertion order for
// the schedule's same-expiry tie-break rule.
func (s *Schedule) Insert(block common.BlockNumber, t Task) error {
	tasks, err := s.TasksAt(block)
	if err != nil {
		return err
	}
	tasks = append(tasks, t)
	return s.store(block, tasks)
}

func (s *Schedule) store(block common.BlockNumber, tasks []Task) error {
	enc, err := marshalBucket(tasks)
	if err != nil {
		return err
	}
	if err := s.kv.Put(bucketKey(block), enc); err != nil {
		return err
	}
	s.cache.Add(block, tasks)
	return nil
}

// Clear empties block's bucket, called by the runner once every task
// due at block has run (spec.md §4.6 step 1). The KV trait of spec.md
// §6 has no delete operation, so this stores the empty-bucket encoding
// rather than removing the key — functionally equivalent, since TasksAt
// treats both as "nothing due".
func (s *Schedule) Clear(block common.BlockNumber) error {
	return s.store(block, nil)
}
