// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package schedule

import (
	"testing"

	"github.com/probechain/gactor/common"
	"github.com/probechain/gactor/gasdb"
)

// memKV is a minimal in-memory gasdb.KeyValueStore stand-in for
// Schedule tests, independent of any real backend.
type memKV struct {
	m map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: map[string][]byte{}} }

func (k *memKV) Get(key []byte) ([]byte, bool, error) {
	v, ok := k.m[string(key)]
	return v, ok, nil
}
func (k *memKV) Put(key []byte, value []byte) error {
	k.m[string(key)] = append([]byte(nil), value...)
	return nil
}
func (k *memKV) Contains(key []byte) (bool, error) {
	_, ok := k.m[string(key)]
	return ok, nil
}
func (k *memKV) IterPrefix(prefix []byte) gasdb.Iterator { return nil }
func (k *memKV) Close() error                            { return nil }

func TestScheduleInsertAndTasksAtPreservesOrder(t *testing.T) {
	s, err := New(newMemKV(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := WakeMessageTask(actor(1), msgID(1))
	b := WakeMessageTask(actor(2), msgID(2))
	if err := s.Insert(100, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(100, b); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tasks, err := s.TasksAt(100)
	if err != nil {
		t.Fatalf("TasksAt: %v", err)
	}
	if len(tasks) != 2 || tasks[0] != a || tasks[1] != b {
		t.Fatalf("TasksAt(100) = %+v, want [a, b] in insertion order", tasks)
	}
}

func TestScheduleTasksAtEmptyBlock(t *testing.T) {
	s, err := New(newMemKV(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tasks, err := s.TasksAt(999)
	if err != nil {
		t.Fatalf("TasksAt: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks at an untouched block, got %v", tasks)
	}
}

func TestScheduleClearEmptiesBucket(t *testing.T) {
	s, err := New(newMemKV(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Insert(50, WakeMessageTask(actor(1), msgID(1)))

	if err := s.Clear(50); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	tasks, err := s.TasksAt(50)
	if err != nil {
		t.Fatalf("TasksAt after Clear: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty bucket after Clear, got %v", tasks)
	}
}

func TestScheduleSurvivesCacheEviction(t *testing.T) {
	kv := newMemKV()
	s, err := New(kv, 1) // force eviction after a single entry
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := WakeMessageTask(actor(1), msgID(1))
	if err := s.Insert(common.BlockNumber(1), a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Touching a second block evicts block 1 from the tiny warm cache,
	// forcing the next TasksAt(1) to deserialize from the KV store.
	if _, err := s.TasksAt(common.BlockNumber(2)); err != nil {
		t.Fatalf("TasksAt(2): %v", err)
	}

	tasks, err := s.TasksAt(common.BlockNumber(1))
	if err != nil {
		t.Fatalf("TasksAt(1) after eviction: %v", err)
	}
	if len(tasks) != 1 || tasks[0] != a {
		t.Fatalf("TasksAt(1) after eviction = %+v, want [a]", tasks)
	}
}
