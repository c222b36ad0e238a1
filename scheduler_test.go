// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	esdmcrypto "github.com/sixafter/esdm/crypto"
)

func newTestScheduler(t *testing.T, nodes int) (*Scheduler, *Pool, *StateMachine) {
	t.Helper()

	pool, err := NewPool(nodes, esdmcrypto.BuiltinHashDRBG, esdmcrypto.BuiltinSHA512, defaultDRNGMaxWithoutReseed)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	atomicDRNG, err := NewAtomicDRNG(esdmcrypto.BuiltinAtomicChaCha20)
	if err != nil {
		t.Fatalf("NewAtomicDRNG: %v", err)
	}

	registry := NewRegistry()
	registry.Register(DefaultFallbackSource())
	cfgStore := NewConfigStore(DefaultConfig())
	esm := NewEntropySourceManager(registry, cfgStore, nil)
	state := NewStateMachine()

	sched := NewScheduler(pool, atomicDRNG, esm, state, cfgStore, nil)
	sched.nodeStagger = time.Millisecond

	return sched, pool, state
}

// Test_Scheduler_RunOnce_SeedsEveryDueNode confirms a single pass seeds
// every node DRNG and advances the state machine to operational.
func Test_Scheduler_RunOnce_SeedsEveryDueNode(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, state := newTestScheduler(t, 2)

	is.NoError(sched.RunOnce(context.Background()))
	is.True(pool.AllNodesFullySeeded())
	is.Equal(StateOperational, state.Current())
}

// Test_Scheduler_RunOnce_SkipsWhenTrylockHeld confirms a pass that can't
// acquire the pool-global trylock seeds nothing rather than blocking.
func Test_Scheduler_RunOnce_SkipsWhenTrylockHeld(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, state := newTestScheduler(t, 1)
	is.True(pool.TryLockReseed())
	defer pool.UnlockReseed()

	is.NoError(sched.RunOnce(context.Background()))
	is.Equal(StateUnseeded, state.Current())
}

// Test_Scheduler_RunOnce_NoOpWhenNothingDue confirms a second pass right
// after a successful one does not re-seed anything (MustReseed is false).
func Test_Scheduler_RunOnce_NoOpWhenNothingDue(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, _ := newTestScheduler(t, 1)
	is.NoError(sched.RunOnce(context.Background()))

	before := pool.Node(0).FullySeeded()
	is.NoError(sched.RunOnce(context.Background()))
	is.Equal(before, pool.Node(0).FullySeeded())
}

// Test_Scheduler_PrimeAll_SeedsEverythingRegardless confirms the
// bootstrap-only primeAll pass, which never consults MustReseed, seeds
// the init DRNG and every node to fully_seeded in one call.
func Test_Scheduler_PrimeAll_SeedsEverythingRegardless(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, _ := newTestScheduler(t, 2)
	is.NoError(sched.primeAll())
	is.True(pool.Init().FullySeeded())
	is.True(pool.AllNodesFullySeeded())
}

// Test_Scheduler_ForceReseedAll_MarksFullySeededNodesAndAtomic confirms a
// forced pass sets force_reseed on every currently fully_seeded node DRNG
// and on the atomic DRNG, without itself performing any reseed.
func Test_Scheduler_ForceReseedAll_MarksFullySeededNodesAndAtomic(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, _ := newTestScheduler(t, 2)
	is.NoError(sched.primeAll())

	is.NoError(sched.ForceReseedAll())
	for _, d := range pool.nodes {
		is.True(d.ForceReseedSet())
	}
	is.True(sched.atomicDRNG.ForceReseedSet())
}

// Test_Scheduler_ForceReseedAll_SkipsNodesNeverFullySeeded confirms a
// forced pass never sets force_reseed on a node DRNG that has not reached
// fully_seeded — forcing it would not be a meaningful reseed.
func Test_Scheduler_ForceReseedAll_SkipsNodesNeverFullySeeded(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, _ := newTestScheduler(t, 2)
	is.NoError(sched.ForceReseedAll())
	for _, d := range pool.nodes {
		is.False(d.ForceReseedSet())
	}
}

// Test_Scheduler_ForceReseedAll_InitStarvationSpecialCase confirms that
// once the init DRNG has served more than ReseedThreshold generates since
// its last full seed, ForceReseedAll forces only the init DRNG, leaving
// node DRNGs untouched.
func Test_Scheduler_ForceReseedAll_InitStarvationSpecialCase(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, pool, _ := newTestScheduler(t, 2)
	is.NoError(sched.primeAll())

	init := pool.Init()
	for i := int64(0); i <= ReseedThreshold; i++ {
		_, err := init.Generate(make([]byte, 1))
		is.NoError(err)
	}
	is.Greater(init.RequestsSinceFullySeeded(), int64(ReseedThreshold))

	is.NoError(sched.ForceReseedAll())
	is.True(init.ForceReseedSet())
	for _, d := range pool.nodes {
		is.False(d.ForceReseedSet())
	}
}

// Test_Scheduler_Start_StopsOnContextCancel confirms the background loop
// exits promptly once its context is canceled.
func Test_Scheduler_Start_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sched, _, _ := newTestScheduler(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		sched.Start(ctx, time.Millisecond)
		close(stopped)
	}()

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		is.Fail("Start did not return after context cancellation")
	}
}
