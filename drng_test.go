// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	esdmcrypto "github.com/sixafter/esdm/crypto"
)

func newTestDRNG(t *testing.T) *DRNG {
	t.Helper()
	d, err := NewDRNG(esdmcrypto.BuiltinHashDRBG, esdmcrypto.BuiltinSHA512, defaultDRNGMaxWithoutReseed)
	if err != nil {
		t.Fatalf("NewDRNG: %v", err)
	}
	return d
}

// Test_DRNG_GenerateBeforeSeedFails confirms a freshly allocated DRNG
// refuses to generate until seeded.
func Test_DRNG_GenerateBeforeSeedFails(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	_, err := d.Generate(make([]byte, 16))
	is.Error(err)
}

// Test_DRNG_SeedThenGenerate confirms a seeded DRNG fills the requested
// number of bytes.
func Test_DRNG_SeedThenGenerate(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x1}, 48), SecurityStrengthBits, false))

	out := make([]byte, 128)
	n, err := d.Generate(out)
	is.NoError(err)
	is.Equal(len(out), n)
}

// Test_DRNG_Seed_MarksFullySeededAtThreshold confirms FullySeeded only
// reports true once the credited entropy meets the active threshold.
func Test_DRNG_Seed_MarksFullySeededAtThreshold(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)

	is.NoError(d.Seed(bytes.Repeat([]byte{0x2}, 48), MinSeedEntropyBits, false))
	is.False(d.FullySeeded())

	is.NoError(d.Seed(bytes.Repeat([]byte{0x2}, 48), SecurityStrengthBits, false))
	is.True(d.FullySeeded())
}

// Test_DRNG_Seed_OversampledRaisesThreshold confirms a credit that would
// be "fully seeded" without oversampling is not enough with it.
func Test_DRNG_Seed_OversampledRaisesThreshold(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x3}, 48), SecurityStrengthBits, true))
	is.False(d.FullySeeded())
}

// Test_DRNG_MustReseed_TrueAfterRequestBudgetExhausted confirms the
// reseed-request counter trigger fires once it's driven down to zero —
// it resets to ReseedThreshold on every Seed and is decremented once per
// Generate call, independent of maxWithoutReseed.
func Test_DRNG_MustReseed_TrueAfterRequestBudgetExhausted(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x4}, 48), SecurityStrengthBits, false))
	is.False(d.MustReseed(0))

	atomic.StoreInt64(&d.reseedRequestCounter, 1)
	_, err := d.Generate(make([]byte, 8))
	is.NoError(err)
	is.True(d.MustReseed(0))
}

// Test_DRNG_Generate_UnsetsFullySeededPastMaxWithoutReseed confirms
// requests_since_fully_seeded clears the fully_seeded flag once it
// exceeds maxWithoutReseed, independent of the reseed-request counter.
func Test_DRNG_Generate_UnsetsFullySeededPastMaxWithoutReseed(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d, err := NewDRNG(esdmcrypto.BuiltinHashDRBG, esdmcrypto.BuiltinSHA512, 1)
	is.NoError(err)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x7}, 48), SecurityStrengthBits, false))
	is.True(d.FullySeeded())

	_, err = d.Generate(make([]byte, 8))
	is.NoError(err)
	is.True(d.FullySeeded())

	_, err = d.Generate(make([]byte, 8))
	is.NoError(err)
	is.False(d.FullySeeded())
}

// Test_DRNG_Reset_SetsForceReseed confirms Reset's invariant that
// fully_seeded becomes false and force_reseed becomes true together.
func Test_DRNG_Reset_SetsForceReseed(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x8}, 48), SecurityStrengthBits, false))
	is.False(d.ForceReseedSet())

	is.NoError(d.Reset())
	is.True(d.ForceReseedSet())

	is.NoError(d.Seed(bytes.Repeat([]byte{0x9}, 48), SecurityStrengthBits, false))
	is.False(d.ForceReseedSet())
}

// Test_DRNG_MustReseed_TrueBeforeFirstSeed confirms a never-seeded DRNG
// always reports needing a reseed.
func Test_DRNG_MustReseed_TrueBeforeFirstSeed(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.True(d.MustReseed(0))
}

// Test_DRNG_Reset_RequiresReseedAgain confirms Reset drops fully-seeded
// status and forces a future MustReseed.
func Test_DRNG_Reset_RequiresReseedAgain(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x5}, 48), SecurityStrengthBits, false))
	is.True(d.FullySeeded())

	is.NoError(d.Reset())
	is.False(d.FullySeeded())
	is.True(d.MustReseed(0))
}

// Test_DRNG_Generate_ChunksLargeRequests confirms a request far larger
// than MaxRequestSize still returns the full amount requested.
func Test_DRNG_Generate_ChunksLargeRequests(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	d := newTestDRNG(t)
	is.NoError(d.Seed(bytes.Repeat([]byte{0x6}, 48), SecurityStrengthBits, false))

	out := make([]byte, MaxRequestSize*2+123)
	n, err := d.Generate(out)
	is.NoError(err)
	is.Equal(len(out), n)
}
