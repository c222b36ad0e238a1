// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	multierror "github.com/hashicorp/go-multierror"
)

// EntropySourceManager aggregates per-source entropy estimates and builds
// seed buffers (component C2). Sources are independent: a failing source
// is skipped for that seed attempt and never aborts the fill.
type EntropySourceManager struct {
	registry *Registry
	cfgStore *ConfigStore
	names    []string
	logger   Logger
}

// NewEntropySourceManager constructs an ESM over registry, using cfgStore
// to look up each source's configured rate by name.
func NewEntropySourceManager(registry *Registry, cfgStore *ConfigStore, logger Logger) *EntropySourceManager {
	if logger == nil {
		logger = NewNullLogger()
	}
	names := make([]string, 0)
	for _, src := range registry.Sources() {
		names = append(names, src.Name())
	}
	return &EntropySourceManager{registry: registry, cfgStore: cfgStore, names: names, logger: logger}
}

// configuredRateBits looks up the configured entropy rate for a named
// source, matching the four well-known configuration keys in spec §6 and
// falling back to the source's own MaxEntropyBitsPerPoll for any other
// name (e.g. the crypto/rand bootstrap fallback, or a test source).
func (m *EntropySourceManager) configuredRateBits(src Source) uint32 {
	cfg := m.cfgStore.Snapshot()
	switch src.Name() {
	case "cpu":
		return cfg.ESCPUEntropyRateBits
	case "jitter":
		return cfg.ESJitterEntropyRateBits
	case "kernel_rng":
		return cfg.ESKernelRNGEntropyRateBits
	case "sched":
		return cfg.ESSchedEntropyRateBits
	default:
		return clampRate(src.MaxEntropyBitsPerPoll())
	}
}

// NewSeedBuffer allocates a SeedBuffer sized for the currently registered
// sources.
func (m *EntropySourceManager) NewSeedBuffer() *SeedBuffer {
	return newSeedBuffer(m.names)
}

// FillSeedBuffer polls every registered source up to its configured rate,
// writes each source's payload and credited estimate into buf, and
// returns the total bits credited — capped at SecurityStrengthBits+osrBits
// (spec §4.1 "Total cap"). osrBits is the additional oversampling
// requirement (0 when not SP 800-90C compliant); it both raises what each
// source is *asked* for and raises the credited cap by the same amount,
// since otherwise the oversampled full-seed threshold could never be met.
func (m *EntropySourceManager) FillSeedBuffer(buf *SeedBuffer, osrBits uint32) (uint32, error) {
	buf.reset()

	var errs *multierror.Error
	var total uint32

	sources := m.registry.Sources()
	for i, src := range sources {
		if i >= len(buf.slots) {
			break
		}
		slot := &buf.slots[i]
		slot.sourceName = src.Name()

		if !src.EntropyAvailable() {
			continue
		}

		rate := m.configuredRateBits(src)
		if rate == 0 {
			continue
		}

		requested := rate + osrBits
		delivered, credited, err := src.Poll(slot.payload[:], requested)
		if err != nil {
			errs = multierror.Append(errs, newError(KindEntropySourceUnavailable, "FillSeedBuffer", "source "+src.Name()+" poll failed", err))
			m.logger.Warnf("entropy source %s unavailable for this seed: %v", src.Name(), err)
			continue
		}
		_ = delivered

		// Per-source cap: min(configured rate, delivered, security strength).
		if credited > rate {
			credited = rate
		}
		if credited > SecurityStrengthBits {
			credited = SecurityStrengthBits
		}
		slot.creditBits = credited
		total += credited
	}

	// Total cap: aggregate credited entropy never exceeds the security
	// strength plus whatever oversampling slack was requested. Capping at
	// a fixed SecurityStrengthBits here would make the oversampled
	// full-seed threshold (SecurityStrengthBits+OversampleSlackBits)
	// permanently unreachable under FIPS, deadlocking every blocking
	// caller.
	totalCap := SecurityStrengthBits + osrBits
	if total > totalCap {
		total = totalCap
	}
	buf.creditedBits = total

	if errs != nil {
		return total, errs.ErrorOrNil()
	}
	return total, nil
}

// fullSeedThresholdBits returns the entropy, in bits, required for a seed
// to be considered "fully seeded" under the current oversampling policy.
func fullSeedThresholdBits(oversampled bool) uint32 {
	if oversampled {
		return SecurityStrengthBits + OversampleSlackBits
	}
	return SecurityStrengthBits
}

// FullySeededFrom reports whether buf's credited entropy meets the
// full-seed threshold for the current oversampling policy.
func (m *EntropySourceManager) FullySeededFrom(buf *SeedBuffer, oversampled bool) bool {
	return buf.CreditedBits() >= fullSeedThresholdBits(oversampled)
}

// ReseedWanted reports whether any registered source is independently
// signaling it has entropy ready — the predicate the seed worker loop
// consults to decide whether to run another pass (spec §4.4,
// esdm_es_reseed_wanted).
func (m *EntropySourceManager) ReseedWanted() bool {
	for _, src := range m.registry.Sources() {
		if src.EntropyAvailable() {
			return true
		}
	}
	return false
}

// AvailEntropyBits sums the currently-available entropy across sources,
// capped at the security strength (External Interface avail_entropy()).
func (m *EntropySourceManager) AvailEntropyBits() uint32 {
	var total uint32
	for _, src := range m.registry.Sources() {
		if !src.EntropyAvailable() {
			continue
		}
		rate := m.configuredRateBits(src)
		total += rate
	}
	if total > SecurityStrengthBits {
		total = SecurityStrengthBits
	}
	return total
}
