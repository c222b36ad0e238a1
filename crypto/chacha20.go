// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package crypto

import (
	"crypto/sha512"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/sixafter/esdm/cryptocb"
)

// atomicChaCha20Callback implements cryptocb.AtomicCallback. The atomic
// emergency DRNG (component C6) must never block or allocate on its hot
// Generate path, so this keeps the teacher's atomic.Value cipher-swap
// design: Seed builds a brand-new *chacha20.Cipher off the hot path and
// publishes it with a single atomic store, while Generate only ever loads
// and XORs.
type atomicChaCha20Callback struct{}

// BuiltinAtomicChaCha20 is the built-in atomic DRNG callback.
var BuiltinAtomicChaCha20 cryptocb.AtomicCallback = atomicChaCha20Callback{}

func (atomicChaCha20Callback) Name() string { return "atomic_chacha20" }

func (atomicChaCha20Callback) Alloc() (cryptocb.AtomicEngine, error) {
	return &atomicChaCha20Engine{}, nil
}

// atomicChaCha20Engine holds the active cipher in an atomic.Value so that
// Generate (the hot path, called with no lock held per spec §5) never
// contends with a concurrent Seed.
type atomicChaCha20Engine struct {
	cipher atomic.Value // *chacha20.Cipher
	zero   [4096]byte
}

// Seed derives a ChaCha20 key and nonce from seed via HKDF-SHA-512
// (golang.org/x/crypto/hkdf), builds a new cipher, and publishes it
// atomically. Unlike the pooled PRNG this is adapted from, seed material
// here always comes from the DRNG manager's own seed buffer rather than
// crypto/rand directly, since the atomic DRNG must be reseedable from the
// same entropy accounting as every other DRNG instance.
func (e *atomicChaCha20Engine) Seed(seed []byte) error {
	if len(seed) == 0 {
		return fmt.Errorf("atomic_chacha20: empty seed")
	}

	kdf := hkdf.New(sha512.New, seed, nil, []byte("esdm-atomic-chacha20"))

	key := make([]byte, chacha20.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("atomic_chacha20: derive key: %w", err)
	}
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := io.ReadFull(kdf, nonce); err != nil {
		return fmt.Errorf("atomic_chacha20: derive nonce: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	for i := range key {
		key[i] = 0
	}
	for i := range nonce {
		nonce[i] = 0
	}
	if err != nil {
		return fmt.Errorf("atomic_chacha20: new cipher: %w", err)
	}

	e.cipher.Store(stream)
	return nil
}

// Generate fills dst without blocking or allocating beyond the fixed
// internal zero buffer, matching the atomic DRNG's C6 contract.
func (e *atomicChaCha20Engine) Generate(dst []byte) (int, error) {
	v := e.cipher.Load()
	if v == nil {
		return 0, fmt.Errorf("atomic_chacha20: generate before seed")
	}
	stream := v.(*chacha20.Cipher)

	n := len(dst)
	produced := 0
	for produced < n {
		chunk := dst[produced:]
		if len(chunk) > len(e.zero) {
			chunk = chunk[:len(e.zero)]
		}
		stream.XORKeyStream(chunk, e.zero[:len(chunk)])
		produced += len(chunk)
	}
	return produced, nil
}
