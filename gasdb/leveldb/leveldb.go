// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package leveldb implements gasdb.KeyValueStore atop syndtr/goleveldb,
// the on-disk backend the node uses outside of tests.
package leveldb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/probechain/gactor/gasdb"
)

// Database wraps a *leveldb.DB as a gasdb.KeyValueStore.
type Database struct {
	db *leveldb.DB
}

// New opens (creating if absent) a leveldb database at path, with cache
// and file-handle budgets expressed in mebibytes / file count, mirroring
// the teacher's own probedb/leveldb constructor knobs.
func New(path string, cacheMiB int, handles int) (*Database, error) {
	if cacheMiB < 16 {
		cacheMiB = 16
	}
	if handles < 16 {
		handles = 16
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cacheMiB / 2 * opt.MiB,
		WriteBuffer:            cacheMiB / 4 * opt.MiB,
		Filter:                 nil,
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// NewMemory opens an in-memory leveldb instance, for tests.
func NewMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Get(key []byte) ([]byte, bool, error) {
	val, err := d.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (d *Database) Put(key []byte, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *Database) Contains(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *Database) IterPrefix(prefix []byte) gasdb.Iterator {
	return &levelIterator{iter: d.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (d *Database) Close() error {
	return d.db.Close()
}

type levelIterator struct {
	iter iterator.Iterator
}

func (it *levelIterator) Next() bool      { return it.iter.Next() }
func (it *levelIterator) Key() []byte     { return it.iter.Key() }
func (it *levelIterator) Value() []byte   { return it.iter.Value() }
func (it *levelIterator) Release()        { it.iter.Release() }
func (it *levelIterator) Error() error    { return it.iter.Error() }
