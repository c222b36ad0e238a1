// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sixafter/esdm/cryptocb"
)

// DRNG is a single DRBG-backed random number generator instance
// (component C4). Every per-node pool entry and the init DRNG are built
// from this type.
//
// Locking follows esdm_drng_mgr.c: Seed, Reset and Generate all take the
// write lock, so two Generate calls on the same DRNG never run
// concurrently and every Generate observes a complete Seed.
type DRNG struct {
	mu       sync.RWMutex
	callback cryptocb.DRNGCallback
	hash     cryptocb.HashCallback
	engine   cryptocb.DRNGEngine

	maxWithoutReseed uint32

	reseedRequestCounter     int64 // atomic: resets to ReseedThreshold on Seed, decremented on each Generate
	requestsSinceFullySeeded int64 // atomic: generate calls served since the last full seed
	lastReseedUnix           int64 // atomic: unix seconds of the last successful reseed

	oversampled atomic.Bool
	fullySeeded atomic.Bool
	forceReseed atomic.Bool
}

// NewDRNG allocates a fresh, unseeded DRNG using callback for its DRBG and
// hash as its conditioning hash (spec §4.1: "a SHA-512 conditioning hash
// and a Hash-DRBG drive the default DRNG instances").
func NewDRNG(callback cryptocb.DRNGCallback, hash cryptocb.HashCallback, maxWithoutReseed uint32) (*DRNG, error) {
	engine, err := callback.Alloc()
	if err != nil {
		return nil, newError(KindInternal, "NewDRNG", "allocating DRBG engine", err)
	}
	d := &DRNG{
		callback:         callback,
		hash:             hash,
		engine:           engine,
		maxWithoutReseed: maxWithoutReseed,
	}
	atomic.StoreInt64(&d.reseedRequestCounter, ReseedThreshold)
	return d, nil
}

// Reset discards the current DRBG state and allocates a fresh, unseeded
// engine in its place (esdm_drng_reset: "securely destroy the old state,
// then start from scratch"). Callers must treat the DRNG as unseeded
// immediately after Reset returns. Per spec invariant 3, force_reseed is
// left set so the scheduler does not mistake this DRNG for one that can
// wait out its normal reseed interval.
func (d *DRNG) Reset() error {
	engine, err := d.callback.Alloc()
	if err != nil {
		return newError(KindInternal, "DRNG.Reset", "allocating DRBG engine", err)
	}

	d.mu.Lock()
	d.engine = engine
	d.mu.Unlock()

	atomic.StoreInt64(&d.reseedRequestCounter, ReseedThreshold)
	atomic.StoreInt64(&d.requestsSinceFullySeeded, 0)
	atomic.StoreInt64(&d.lastReseedUnix, 0)
	d.fullySeeded.Store(false)
	d.forceReseed.Store(true)
	return nil
}

// Seed conditions raw seed material through the DRNG's hash callback and
// feeds the digest to the DBRG's Seed method (esdm_drng_seed: "the raw
// entropy pool is never handed to the DRBG directly — it is always
// conditioned first"). credited is the entropy, in bits, the caller
// attributes to seed. On a callback failure, force_reseed is set so the
// scheduler retries rather than waiting out the normal interval; on
// success, the reseed-request counter resets to ReseedThreshold and
// force_reseed clears. requests_since_fully_seeded is cleared only when
// credited meets the full-seed threshold — otherwise it keeps accruing,
// which is exactly "adds the number of generate calls since the last
// seed" since Generate increments it continuously between seeds.
func (d *DRNG) Seed(seed []byte, credited uint32, oversampled bool) error {
	digest := d.hash.Sum(seed)
	defer zero(digest)

	d.mu.Lock()
	err := d.engine.Seed(digest)
	d.mu.Unlock()

	if err != nil {
		d.forceReseed.Store(true)
		return newError(KindSeedFailed, "DRNG.Seed", "engine seed failed", err)
	}

	atomic.StoreInt64(&d.reseedRequestCounter, ReseedThreshold)
	atomic.StoreInt64(&d.lastReseedUnix, time.Now().Unix())
	d.forceReseed.Store(false)
	d.oversampled.Store(oversampled)

	if credited >= fullSeedThresholdBits(oversampled) {
		atomic.StoreInt64(&d.requestsSinceFullySeeded, 0)
		d.fullySeeded.Store(true)
	}
	return nil
}

// Generate fills dst with output, chunking any request larger than
// MaxRequestSize so the underlying DRBG never sees a single call past its
// own per-request limit (esdm_drng_get's chunking loop). Every completed
// call decrements the reseed-request counter by one and increments
// requests_since_fully_seeded; once the latter exceeds maxWithoutReseed,
// fully_seeded is cleared (unset_fully_seeded, spec §4.2).
func (d *DRNG) Generate(dst []byte) (int, error) {
	produced := 0
	for produced < len(dst) {
		end := produced + MaxRequestSize
		if end > len(dst) {
			end = len(dst)
		}

		d.mu.Lock()
		n, err := d.engine.Generate(dst[produced:end])
		d.mu.Unlock()

		if err != nil {
			return produced, newError(KindDRNGGenerateFailed, "DRNG.Generate", "engine generate failed", err)
		}
		produced += n
	}

	atomic.AddInt64(&d.reseedRequestCounter, -1)
	since := atomic.AddInt64(&d.requestsSinceFullySeeded, 1)
	if since > int64(d.maxWithoutReseed) {
		d.fullySeeded.Store(false)
	}

	return produced, nil
}

// MustReseed reports whether this DRNG's reseed-request counter has hit
// zero (every ReseedThreshold generate calls), force_reseed is set, or
// maxTimeSeconds has elapsed since its last reseed (esdm_drng_must_reseed).
// maxTimeSeconds of 0 disables the time-based trigger, matching
// Config.ReseedMaxTimeSeconds's documented meaning.
func (d *DRNG) MustReseed(maxTimeSeconds uint32) bool {
	if d.forceReseed.Load() {
		return true
	}
	if atomic.LoadInt64(&d.reseedRequestCounter) <= 0 {
		return true
	}
	last := atomic.LoadInt64(&d.lastReseedUnix)
	if last == 0 {
		return true
	}
	if maxTimeSeconds == 0 {
		return false
	}
	return time.Now().Unix()-last >= int64(maxTimeSeconds)
}

// FullySeeded reports whether a Seed call since construction or the last
// Reset met the full-seed threshold in effect at the time, and this DRNG
// has not since served more than maxWithoutReseed generate calls. A later
// Seed below the threshold does not clear it.
func (d *DRNG) FullySeeded() bool {
	return d.fullySeeded.Load()
}

// RequestsSinceFullySeeded reports the number of Generate calls served
// since this DRNG last reached the full-seed threshold (or since
// construction/Reset, if it never has). ForceReseedAll's init-starvation
// special case consults this.
func (d *DRNG) RequestsSinceFullySeeded() int64 {
	return atomic.LoadInt64(&d.requestsSinceFullySeeded)
}

// SetForceReseed sets or clears this DRNG's force_reseed flag. The
// scheduler sets it when a pool-trylock contention or a forced-reseed
// request finds this DRNG not immediately reseedable, and clears it once
// a subsequent Seed succeeds.
func (d *DRNG) SetForceReseed(v bool) {
	d.forceReseed.Store(v)
}

// ForceReseedSet reports whether force_reseed is currently set.
func (d *DRNG) ForceReseedSet() bool {
	return d.forceReseed.Load()
}

// Oversampled reports whether the last successful Seed call was credited
// under SP 800-90C oversampling.
func (d *DRNG) Oversampled() bool {
	return d.oversampled.Load()
}

// Name identifies the underlying DRBG construction for logs and status.
func (d *DRNG) Name() string {
	return d.callback.Name()
}
