// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syscall

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"

	"github.com/probechain/gactor/crypto/dilithium"
)

// ErrInvalidSignature is the last-error value a failed crypto verify
// syscall records; it is a guest-visible verification failure, not a
// trap, since signature verification is expected to fail for untrusted
// input.
var ErrInvalidSignature = errors.New("syscall: signature verification failed")

// registerCrypto wires the PQC signature-verification syscalls. Only
// ML-DSA (Dilithium2/mode2) is wired, since it is the only post-quantum
// scheme the retrieved corpus implements (crypto/dilithium, built on
// cloudflare/circl); Falcon512 and SLH-DSA opcodes named by the
// instruction set have no grounded Go implementation available and are
// intentionally left unregistered rather than faked.
func (h *Host) registerCrypto() {
	h.export("verify_mldsa", func(ctx context.Context, mod api.Module, pubPtr, msgPtr, msgLen, sigPtr uint32) uint32 {
		ext := externalitiesFrom(ctx)
		pubBytes := readBytes(mod, pubPtr, uint32(dilithium.PublicKeySize))
		msg := readBytes(mod, msgPtr, msgLen)
		sig := readBytes(mod, sigPtr, uint32(dilithium.SignatureSize))

		pub, err := dilithium.UnmarshalPublicKey(pubBytes)
		if err != nil {
			return writeErrorLen(ext, err)
		}
		if !dilithium.Verify(pub, msg, sig) {
			return writeErrorLen(ext, ErrInvalidSignature)
		}
		return writeErrorLen(ext, nil)
	})
}
