// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"context"
	"time"
)

// defaultNodeStagger is the minimum spacing between two node reseeds
// started by the same scheduling pass, so a burst of simultaneously
// expiring DRNGs doesn't drive every entropy source at once.
const defaultNodeStagger = 60 * time.Second

// Scheduler is the reseed scheduler (component C7). It owns the decision
// of *when* a DRNG needs fresh seed material and drives the seed worker
// loop; the actual conditioning and DRBG seeding happen on DRNG.Seed.
type Scheduler struct {
	pool       *Pool
	atomicDRNG *AtomicDRNG
	esm        *EntropySourceManager
	state      *StateMachine
	cfgStore   *ConfigStore
	logger     Logger

	nodeStagger time.Duration
}

// NewScheduler constructs a Scheduler over the given collaborators.
func NewScheduler(pool *Pool, atomicDRNG *AtomicDRNG, esm *EntropySourceManager, state *StateMachine, cfgStore *ConfigStore, logger Logger) *Scheduler {
	if logger == nil {
		logger = NewNullLogger()
	}
	return &Scheduler{
		pool:        pool,
		atomicDRNG:  atomicDRNG,
		esm:         esm,
		state:       state,
		cfgStore:    cfgStore,
		logger:      logger,
		nodeStagger: defaultNodeStagger,
	}
}

// seedOne runs a single seed attempt against d: fill a seed buffer from
// every registered entropy source, seed d with whatever was collected,
// and advance the state machine if the threshold for the next state was
// met (esdm_drng_seed_work_one).
func (s *Scheduler) seedOne(d *DRNG) error {
	cfg := s.cfgStore.Snapshot()
	oversampled := cfg.OversampleEntropySources && cfg.FIPSEnabled()

	var osrBits uint32
	if oversampled {
		osrBits = OversampleSlackBits
	}

	buf := s.esm.NewSeedBuffer()
	defer buf.Zeroize()

	credited, err := s.esm.FillSeedBuffer(buf, osrBits)
	if err != nil {
		s.logger.Warnf("seed pass collected partial entropy: %v", err)
	}
	if credited == 0 {
		return newError(KindEntropySourceUnavailable, "Scheduler.seedOne", "no entropy source delivered any payload", nil)
	}

	seedBytes := buf.Bytes()
	defer zero(seedBytes)

	if err := d.Seed(seedBytes, credited, oversampled); err != nil {
		return err
	}

	switch {
	case credited >= fullSeedThresholdBits(oversampled):
		s.state.Advance(StateFullySeeded)
	case credited >= MinSeedEntropyBits:
		s.state.Advance(StateMinSeeded)
	}

	if s.pool.AllNodesFullySeeded() {
		s.state.Advance(StateOperational)
	}

	// Opportunistically refresh the atomic DRNG whenever fresh seed
	// material is already in hand, single-flight guarded so a background
	// pass never stacks up behind a slow one.
	if s.atomicDRNG != nil && s.atomicDRNG.TryLockSeed() {
		defer s.atomicDRNG.UnlockSeed()
		atomicSeed := s.hash().Sum(seedBytes)
		defer zero(atomicSeed)
		if err := s.atomicDRNG.Seed(atomicSeed); err != nil {
			s.logger.Warnf("atomic DRNG reseed failed: %v", err)
		}
	}

	return nil
}

// hash returns the conditioning hash used to derive the atomic DRNG's
// seed from the same material just fed to a node DRNG. Both DRNG and
// AtomicDRNG are seeded from the identical entropy pool draw, so reusing
// the node DRNG's own hash callback keeps the derivation consistent;
// read from the init DRNG since every DRNG in a pool shares one hash
// callback by construction.
func (s *Scheduler) hash() hashSummer {
	return s.pool.Init().hash
}

// hashSummer is the minimal slice of cryptocb.HashCallback the scheduler
// needs, named locally so this file doesn't have to import cryptocb just
// to spell the field type out.
type hashSummer interface {
	Sum(parts ...[]byte) []byte
}

// RunOnce performs a single scheduling pass: every DRNG in the pool whose
// MustReseed predicate is true gets one seed attempt, staggered by
// nodeStagger so a simultaneous expiry of many node DRNGs doesn't hammer
// the entropy sources at once. Returns immediately if the pool-global
// reseed trylock is already held by another goroutine
// (esdm_drng_force_reseed's single-flight intent).
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.pool.TryLockReseed() {
		// Contention: another pass is already running this DRNG's seed
		// work. Per spec §4.4, the caller sets force_reseed and returns
		// with a stale seed rather than blocking — the in-flight worker,
		// or the next pass, will satisfy it.
		cfg := s.cfgStore.Snapshot()
		for _, d := range s.pool.All() {
			if d.MustReseed(cfg.ReseedMaxTimeSeconds) {
				d.SetForceReseed(true)
			}
		}
		return nil
	}
	defer s.pool.UnlockReseed()

	cfg := s.cfgStore.Snapshot()

	// The init DRNG is the fallback every caller is served by while no
	// node DRNG is fully seeded, so whenever it is due (including when
	// ForceReseedAll has forced it) it is seeded first and out of stagger
	// order (esdm_drng_mgr_initalize).
	if s.pool.Init().MustReseed(cfg.ReseedMaxTimeSeconds) {
		if err := s.seedOne(s.pool.Init()); err != nil {
			s.logger.Warnf("init DRNG seed attempt failed: %v", err)
		}
	}

	for _, d := range s.pool.nodes {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if !d.MustReseed(cfg.ReseedMaxTimeSeconds) {
			continue
		}
		if err := s.seedOne(d); err != nil {
			s.logger.Warnf("node DRNG seed attempt failed: %v", err)
			continue
		}
		if ctx != nil {
			select {
			case <-time.After(s.nodeStagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// primeAll seeds every DRNG in the pool unconditionally, ignoring
// MustReseed, and blocks until the pass completes. This is NewManager's
// bootstrap path only — it exists to take a freshly constructed Manager
// from unseeded to at least min_seeded (ideally operational) before
// returning, which the flag-setting ForceReseedAll cannot do on its own
// since nothing is fully_seeded yet for it to act on. It acquires the
// pool-global reseed trylock itself; if another pass is already running,
// it waits for that one to finish rather than racing it.
func (s *Scheduler) primeAll() error {
	for !s.pool.TryLockReseed() {
		time.Sleep(time.Millisecond)
	}
	defer s.pool.UnlockReseed()

	var firstErr error
	if err := s.seedOne(s.pool.Init()); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, d := range s.pool.nodes {
		if err := s.seedOne(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ForceReseedAll implements force_reseed_all (spec §4.4, invoked by
// Manager.ForceReseed): it sets force_reseed on every node DRNG that is
// currently fully_seeded — so the forced reseed is meaningful rather than
// wasted on a DRNG that was never usable — and on the atomic DRNG. The
// actual reseed happens on the next scheduling pass, which treats
// force_reseed exactly like an expired counter or timer in MustReseed.
//
// Special case: if the init DRNG has served more than ReseedThreshold
// generate calls since it last reached fully_seeded, only the init DRNG
// is forced, so it is not starved further by node reseeds contending for
// the same entropy sources — it is the fallback every caller depends on
// until a node DRNG is fully seeded.
func (s *Scheduler) ForceReseedAll() error {
	init := s.pool.Init()
	if init.RequestsSinceFullySeeded() > ReseedThreshold {
		init.SetForceReseed(true)
		return nil
	}

	for _, d := range s.pool.nodes {
		if d.FullySeeded() {
			d.SetForceReseed(true)
		}
	}
	if s.atomicDRNG != nil {
		s.atomicDRNG.SetForceReseed(true)
	}
	return nil
}

// Start runs RunOnce on interval until ctx is canceled. This background
// loop (plus the pass a configuration change triggers) is where reseeds
// happen; the Manager's generate path makes no reseed check of its own.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Warnf("scheduler pass aborted: %v", err)
			}
		}
	}
}
