// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fixedSource is a Source whose every Poll delivers a fixed byte and
// credits a fixed number of bits, for deterministic ESM tests.
type fixedSource struct {
	name      string
	available bool
	maxBits   uint32
	fill      byte
	err       error
}

func (s fixedSource) Name() string                 { return s.name }
func (s fixedSource) MaxEntropyBitsPerPoll() uint32 { return s.maxBits }
func (s fixedSource) EntropyAvailable() bool        { return s.available }
func (s fixedSource) Poll(dst []byte, requestedBits uint32) (int, uint32, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	for i := range dst {
		dst[i] = s.fill
	}
	credited := s.maxBits
	if credited > requestedBits {
		credited = requestedBits
	}
	return len(dst), credited, nil
}

func newTestESM(t *testing.T, sources ...Source) (*EntropySourceManager, *ConfigStore) {
	t.Helper()
	reg := NewRegistry()
	for _, s := range sources {
		reg.Register(s)
	}
	store := NewConfigStore(NewConfig(
		WithCPUEntropyRateBits(SecurityStrengthBits),
		WithJitterEntropyRateBits(SecurityStrengthBits),
		WithKernelRNGEntropyRateBits(SecurityStrengthBits),
		WithSchedEntropyRateBits(SecurityStrengthBits),
	))
	return NewEntropySourceManager(reg, store, nil), store
}

// Test_ESM_FillSeedBuffer_CreditsUpToSecurityStrength confirms the total
// credited entropy across multiple full-rate sources is capped, not
// summed unbounded.
func Test_ESM_FillSeedBuffer_CreditsUpToSecurityStrength(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: true, maxBits: SecurityStrengthBits, fill: 0x01},
		fixedSource{name: "jitter", available: true, maxBits: SecurityStrengthBits, fill: 0x02},
	)

	buf := esm.NewSeedBuffer()
	defer buf.Zeroize()

	credited, err := esm.FillSeedBuffer(buf, 0)
	is.NoError(err)
	is.Equal(uint32(SecurityStrengthBits), credited)
}

// Test_ESM_FillSeedBuffer_SkipsUnavailableSources confirms a source
// reporting no entropy available contributes nothing and causes no error.
func Test_ESM_FillSeedBuffer_SkipsUnavailableSources(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: false, maxBits: SecurityStrengthBits},
	)

	buf := esm.NewSeedBuffer()
	defer buf.Zeroize()

	credited, err := esm.FillSeedBuffer(buf, 0)
	is.NoError(err)
	is.Equal(uint32(0), credited)
}

// Test_ESM_FillSeedBuffer_OneSourceFailingDoesNotAbortOthers confirms a
// failing source is aggregated as a non-fatal error while a healthy
// sibling still contributes its entropy.
func Test_ESM_FillSeedBuffer_OneSourceFailingDoesNotAbortOthers(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: true, maxBits: 64, fill: 0x01, err: errors.New("bad source")},
		fixedSource{name: "jitter", available: true, maxBits: 64, fill: 0x02},
	)

	buf := esm.NewSeedBuffer()
	defer buf.Zeroize()

	credited, err := esm.FillSeedBuffer(buf, 0)
	is.Error(err)
	is.Equal(uint32(64), credited)
}

// Test_ESM_FullySeededFrom_RespectsOversampling confirms oversampling
// raises the threshold by OversampleSlackBits.
func Test_ESM_FullySeededFrom_RespectsOversampling(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t, fixedSource{name: "cpu", available: true, maxBits: SecurityStrengthBits, fill: 0x01})

	buf := esm.NewSeedBuffer()
	defer buf.Zeroize()
	_, err := esm.FillSeedBuffer(buf, 0)
	is.NoError(err)

	is.True(esm.FullySeededFrom(buf, false))
	is.False(esm.FullySeededFrom(buf, true))
}

// Test_ESM_FillSeedBuffer_OversampledThresholdIsReachable confirms that
// requesting the SP 800-90C oversampling slack actually raises the total
// cap, so a FIPS DRNG can reach fully_seeded instead of blocking forever.
func Test_ESM_FillSeedBuffer_OversampledThresholdIsReachable(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: true, maxBits: SecurityStrengthBits, fill: 0x01},
		fixedSource{name: "jitter", available: true, maxBits: SecurityStrengthBits, fill: 0x02},
	)

	buf := esm.NewSeedBuffer()
	defer buf.Zeroize()

	credited, err := esm.FillSeedBuffer(buf, OversampleSlackBits)
	is.NoError(err)
	is.Equal(uint32(SecurityStrengthBits+OversampleSlackBits), credited)
	is.True(esm.FullySeededFrom(buf, true))
}

// Test_ESM_ReseedWanted_TrueWhenAnySourceIsReady confirms the predicate
// is an OR across every registered source.
func Test_ESM_ReseedWanted_TrueWhenAnySourceIsReady(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: false},
		fixedSource{name: "jitter", available: true},
	)

	is.True(esm.ReseedWanted())
}

// Test_ESM_AvailEntropyBits_CapsAtSecurityStrength confirms avail_entropy
// never exceeds the security strength regardless of source count.
func Test_ESM_AvailEntropyBits_CapsAtSecurityStrength(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	esm, _ := newTestESM(t,
		fixedSource{name: "cpu", available: true, maxBits: SecurityStrengthBits},
		fixedSource{name: "jitter", available: true, maxBits: SecurityStrengthBits},
	)

	is.Equal(uint32(SecurityStrengthBits), esm.AvailEntropyBits())
}
