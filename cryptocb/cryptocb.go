// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package cryptocb defines the capability-set interfaces ("callbacks" in
// the source this module is derived from) that decouple the DRNG manager
// from any one concrete hash or DRBG implementation. This mirrors the
// design note in SPEC_FULL.md: hash, DRBG, and entropy-source capability
// sets are modeled as polymorphic interfaces rather than a vtable of
// function pointers, with hot-swap guarded by the caller's own mutex.
package cryptocb

// HashCallback is the conditioning-hash capability (spec: "a SHA-512
// conditioning hash"). It must not allocate beyond what a single Sum call
// needs, and must be safe for concurrent use — callers only ever take a
// reader lock around it.
type HashCallback interface {
	// Name identifies the hash implementation for logs and status.
	Name() string

	// Sum concatenates parts and returns their digest.
	Sum(parts ...[]byte) []byte

	// SelfTest runs a known-answer test, returning an error if the
	// implementation does not match its reference vectors.
	SelfTest() error
}

// DRNGEngine is a single allocated, stateful DRNG instance produced by a
// DRNGCallback's Alloc. Seed and Generate are both called with the owning
// DRNG's write lock held, serialized against every other access through
// that DRNG. An implementation must still be safe for concurrent use
// (e.g. an internal mutex, or delegating to an already concurrency-safe
// library reader).
type DRNGEngine interface {
	// Seed (re-)initializes the engine's internal state from seed.
	Seed(seed []byte) error

	// Generate fills dst with output, returning the number of bytes
	// written. len(dst) never exceeds the DRBG's own per-request limit;
	// callers are responsible for chunking larger requests. Must be safe
	// for concurrent use.
	Generate(dst []byte) (int, error)
}

// DRNGCallback is a DRNG capability set: it allocates independent
// DRNGEngine instances and exposes a shared self-test. Concrete
// implementations live in package crypto (BuiltinHashDRBG,
// BuiltinAESCTRDRBG).
type DRNGCallback interface {
	// Name identifies the DRNG implementation for logs and status.
	Name() string

	// Alloc returns a freshly constructed, unseeded DRNGEngine.
	Alloc() (DRNGEngine, error)

	// SelfTest runs a known-answer test for this DRNG construction.
	SelfTest() error
}

// AtomicEngine is the capability used by the atomic emergency DRNG
// (component C6). Generate must never block or allocate; Seed may take a
// short-held lock internally but must not block on I/O.
type AtomicEngine interface {
	// Seed (re-)initializes the engine from seed, which may be of any
	// non-zero length.
	Seed(seed []byte) error

	// Generate fills dst with output without blocking or allocating.
	Generate(dst []byte) (int, error)
}

// AtomicCallback allocates AtomicEngine instances.
type AtomicCallback interface {
	// Name identifies the implementation for logs and status.
	Name() string

	// Alloc returns a freshly constructed, unseeded AtomicEngine.
	Alloc() (AtomicEngine, error)
}
