// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"crypto/rand"
	"io"
	"sync"
)

// Source is the contract the core consumes from an external entropy
// collector (jitter-RNG, CPU-RNG, scheduler/IRQ, kernel-RNG drivers, or
// any other). Implementations are registered once at startup and never
// destroyed; the core never constructs or owns a Source's internal state.
type Source interface {
	// Name identifies the source for logging, status, and configuration
	// lookups.
	Name() string

	// MaxEntropyBitsPerPoll is the most entropy, in bits, this source can
	// ever credit in a single Poll call.
	MaxEntropyBitsPerPoll() uint32

	// EntropyAvailable reports whether the source currently believes it has
	// entropy ready to deliver. It must not block.
	EntropyAvailable() bool

	// Poll fills dst (sized by the caller) with up to requestedBits worth
	// of output and returns the number of bytes written and the entropy,
	// in bits, the caller may credit toward a seed. A source that cannot
	// currently deliver returns (0, 0, nil) rather than blocking.
	Poll(dst []byte, requestedBits uint32) (deliveredBytes int, creditedBits uint32, err error)
}

// SelfTester is optionally implemented by a Source to support a
// synchronous self-test at Init.
type SelfTester interface {
	SelfTest() error
}

// StatusReporter is optionally implemented by a Source to contribute a
// free-form status line to Manager.Status.
type StatusReporter interface {
	Status() string
}

// Registry is the static table of registered entropy sources (component
// C1). It is populated once during Init and never mutated afterward
// (spec §3: "Lifecycle: registered at init, never destroyed").
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds src to the registry. It is safe to call concurrently,
// though in practice all registration happens before Init.
func (r *Registry) Register(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}

// Sources returns a snapshot slice of the registered sources.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// SelfTest runs SelfTest on every registered source that implements
// SelfTester, returning the first failure (if any) wrapped as
// KindSelfTestFailed. Matches esdm_drng_mgr_selftest's "fatal at init"
// contract for the crypto callbacks; entropy sources are tested the same
// way because a source that fails its own KAT should not be trusted to
// seed anything.
func (r *Registry) SelfTest() error {
	for _, src := range r.Sources() {
		st, ok := src.(SelfTester)
		if !ok {
			continue
		}
		if err := st.SelfTest(); err != nil {
			return newError(KindSelfTestFailed, "Registry.SelfTest", "source "+src.Name()+" failed self-test", err)
		}
	}
	return nil
}

// cryptoRandSource is a minimal Source backed by crypto/rand, registered
// automatically as a bootstrap fallback when a Manager is constructed
// without any explicit sources — mirroring sixafter/prng-chacha's
// package-level Reader singleton, which exists so the package is usable
// without per-call setup.
type cryptoRandSource struct{}

// DefaultFallbackSource returns a Source backed by crypto/rand.Reader,
// crediting full entropy for whatever it delivers. It exists so Manager
// can reach fully_seeded in environments (tests, esdmctl) with no
// dedicated jitter/CPU/sched/kernel collector wired in.
func DefaultFallbackSource() Source {
	return cryptoRandSource{}
}

func (cryptoRandSource) Name() string { return "crypto_rand" }

func (cryptoRandSource) MaxEntropyBitsPerPoll() uint32 { return SecurityStrengthBits }

func (cryptoRandSource) EntropyAvailable() bool { return true }

func (cryptoRandSource) Poll(dst []byte, requestedBits uint32) (int, uint32, error) {
	n, err := io.ReadFull(rand.Reader, dst)
	if err != nil {
		return 0, 0, err
	}
	credited := uint32(n) * 8
	if credited > requestedBits {
		credited = requestedBits
	}
	return n, credited, nil
}
