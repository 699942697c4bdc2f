// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package hash

import (
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Blake3Hasher is a goroutine safe way to obtain blake3 cryptographic
// hashes of input []byte. The github.com/zeebo/blake3 implementation is
// AVX2 and SSE4.1 accelerated.
type Blake3Hasher struct {
	mu     sync.Mutex
	hasher *blake3.Hasher
}

// NewBlake3Hasher returns a new Blake3Hasher.
func NewBlake3Hasher() *Blake3Hasher {
	return &Blake3Hasher{hasher: blake3.New()}
}

// CryptoHash writes the blake3 hash of input into buffer and returns it.
// Like the standard library's hash.Hash Sum() method, the buffer is
// re-used and overwritten to avoid allocation. The caller picks the hash
// length by sizing the buffer; blake3 digests extend to any length.
func (w *Blake3Hasher) CryptoHash(input, buffer []byte) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.hasher.Reset()
	// Hasher.Write and Digest.Read never return errors.
	_, _ = w.hasher.Write(input)
	_, _ = w.hasher.Digest().Read(buffer)
	return buffer
}

// Blake3sum16 allocates a new hasher every call, which is slower but
// convenient at checksum-verification sites. It returns a 16 byte hash as
// a hexadecimal string.
func Blake3sum16(input []byte) string {
	hasher := blake3.New()

	_, _ = hasher.Write(input)
	var buf [16]byte
	_, _ = hasher.Digest().Read(buf[0:])

	return fmt.Sprintf("%x", buf)
}
