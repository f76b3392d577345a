// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package common

import "golang.org/x/crypto/sha3"

// Hasher is the "opaque hashing oracle" of spec.md §1: the core accepts
// any single-method hash function over content-addressed bytes. SHA3-256
// is the concrete default, following the teacher lineage's own hash
// family (crypto/probe's Keccak/SHA3 usage).
type Hasher interface {
	Hash(data []byte) Hash
}

// SHA3Hasher is the default Hasher, using SHA3-256.
type SHA3Hasher struct{}

// Hash implements Hasher.
func (SHA3Hasher) Hash(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// DefaultHasher is the package-wide default oracle instance.
var DefaultHasher Hasher = SHA3Hasher{}
