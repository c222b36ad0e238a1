// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"sync/atomic"

	"github.com/sixafter/esdm/cryptocb"
)

// Pool is the per-node DRNG pool (component C5): one DRNG per point of
// concurrency, plus a single init DRNG that serves every caller until at
// least one node DRNG is fully seeded. The init DRNG exists because a
// freshly started process has no node DRNG seeded yet, and callers must
// never block on a specific node's slow reseed when another path could
// serve them (esdm_drng_mgr_initalize's "init special case").
type Pool struct {
	nodes []*DRNG
	init  *DRNG

	// reseedTrylock guards the pool-global reseed attempt: only one
	// goroutine may run a seed pass at a time, mirroring
	// esdm_drng_force_reseed's single-flight intent without blocking
	// every other caller behind it.
	reseedTrylock atomic.Bool
}

// NewPool allocates nodeCount node DRNGs plus one init DRNG, all sharing
// callback and hash.
func NewPool(nodeCount int, callback cryptocb.DRNGCallback, hash cryptocb.HashCallback, maxWithoutReseed uint32) (*Pool, error) {
	if nodeCount < 1 {
		nodeCount = 1
	}

	initDRNG, err := NewDRNG(callback, hash, maxWithoutReseed)
	if err != nil {
		return nil, err
	}

	nodes := make([]*DRNG, nodeCount)
	for i := range nodes {
		d, err := NewDRNG(callback, hash, maxWithoutReseed)
		if err != nil {
			return nil, err
		}
		nodes[i] = d
	}

	return &Pool{nodes: nodes, init: initDRNG}, nil
}

// NodeCount returns the number of node DRNGs in the pool.
func (p *Pool) NodeCount() int {
	return len(p.nodes)
}

// Node returns the DRNG assigned to the given node index, modulo the pool
// size so any caller-supplied index (e.g. a CPU or goroutine ID) lands on
// a valid entry.
func (p *Pool) Node(idx int) *DRNG {
	if len(p.nodes) == 0 {
		return p.init
	}
	if idx < 0 {
		idx = -idx
	}
	return p.nodes[idx%len(p.nodes)]
}

// Init returns the init DRNG.
func (p *Pool) Init() *DRNG {
	return p.init
}

// AnyNodeFullySeeded reports whether at least one node DRNG is fully
// seeded, the condition under which the init DRNG stops being consulted
// as a fallback (esdm_drng_mgr_initalize).
func (p *Pool) AnyNodeFullySeeded() bool {
	for _, d := range p.nodes {
		if d.FullySeeded() {
			return true
		}
	}
	return false
}

// AllNodesFullySeeded reports whether every node DRNG is fully seeded,
// the condition for the state machine's operational transition.
func (p *Pool) AllNodesFullySeeded() bool {
	for _, d := range p.nodes {
		if !d.FullySeeded() {
			return false
		}
	}
	return true
}

// TryLockReseed attempts to acquire the pool-global reseed trylock,
// returning true if acquired. A caller that fails to acquire it must not
// block; another goroutine is already running a seed pass.
func (p *Pool) TryLockReseed() bool {
	return p.reseedTrylock.CompareAndSwap(false, true)
}

// UnlockReseed releases the pool-global reseed trylock.
func (p *Pool) UnlockReseed() {
	p.reseedTrylock.Store(false)
}

// All returns every DRNG in the pool, init DRNG first, for operations
// that must touch all of them (self-test, force-reseed-all, Reset).
func (p *Pool) All() []*DRNG {
	out := make([]*DRNG, 0, len(p.nodes)+1)
	out = append(out, p.init)
	out = append(out, p.nodes...)
	return out
}
