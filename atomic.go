// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"sync/atomic"

	"github.com/sixafter/esdm/cryptocb"
)

// AtomicDRNG is the atomic emergency DRNG (component C6): a single
// instance, shared process-wide, that serves best-effort GetRandomBytes
// calls before the Manager reaches min_seeded and must never block a
// caller. The blocking min/full paths never use it.
// Unlike DRNG, it holds no lock of its own on the Generate path — the
// underlying cryptocb.AtomicEngine (BuiltinAtomicChaCha20) is built to
// swap its internal cipher via atomic.Value, matching the "cipher
// atomic.Value" pattern this is adapted from.
type AtomicDRNG struct {
	callback cryptocb.AtomicCallback
	engine   cryptocb.AtomicEngine

	seeded      atomic.Bool
	seeding     atomic.Bool // single-flight guard for an in-flight async Seed
	forceReseed atomic.Bool
}

// NewAtomicDRNG allocates an unseeded atomic DRNG from callback.
func NewAtomicDRNG(callback cryptocb.AtomicCallback) (*AtomicDRNG, error) {
	engine, err := callback.Alloc()
	if err != nil {
		return nil, newError(KindInternal, "NewAtomicDRNG", "allocating atomic engine", err)
	}
	return &AtomicDRNG{callback: callback, engine: engine}, nil
}

// Seed installs fresh seed material. It is synchronous; callers that want
// a non-blocking reseed should run it in their own goroutine guarded by
// TryLockSeed.
func (a *AtomicDRNG) Seed(seed []byte) error {
	if err := a.engine.Seed(seed); err != nil {
		return newError(KindSeedFailed, "AtomicDRNG.Seed", "atomic engine seed failed", err)
	}
	a.seeded.Store(true)
	a.forceReseed.Store(false)
	return nil
}

// SetForceReseed sets or clears this DRNG's force_reseed flag
// (ForceReseedAll's "and on the atomic DRNG" clause, spec §4.4).
func (a *AtomicDRNG) SetForceReseed(v bool) {
	a.forceReseed.Store(v)
}

// ForceReseedSet reports whether force_reseed is currently set.
func (a *AtomicDRNG) ForceReseedSet() bool {
	return a.forceReseed.Load()
}

// TryLockSeed attempts to claim the single-flight guard for an
// asynchronous Seed call, returning true if acquired. Callers must call
// UnlockSeed when the seed attempt (successful or not) completes.
func (a *AtomicDRNG) TryLockSeed() bool {
	return a.seeding.CompareAndSwap(false, true)
}

// UnlockSeed releases the single-flight guard acquired by TryLockSeed.
func (a *AtomicDRNG) UnlockSeed() {
	a.seeding.Store(false)
}

// Seeded reports whether Seed has ever completed successfully.
func (a *AtomicDRNG) Seeded() bool {
	return a.seeded.Load()
}

// Generate fills dst without blocking, per the atomic DRNG's contract. It
// returns KindNotInitialized if Seed has never been called.
func (a *AtomicDRNG) Generate(dst []byte) (int, error) {
	if !a.seeded.Load() {
		return 0, newError(KindNotInitialized, "AtomicDRNG.Generate", "atomic DRNG not yet seeded", nil)
	}
	n, err := a.engine.Generate(dst)
	if err != nil {
		return n, newError(KindDRNGGenerateFailed, "AtomicDRNG.Generate", "atomic engine generate failed", err)
	}
	return n, nil
}
