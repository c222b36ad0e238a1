// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package esdm implements an entropy source and DRNG manager: it
// aggregates entropy from pluggable sources, conditions it through a
// configurable hash, and uses the result to keep a pool of per-node DRBG
// instances seeded well enough to serve cryptographically strong random
// bytes without blocking normal callers on a slow entropy source.
package esdm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sixafter/semver"

	esdmcrypto "github.com/sixafter/esdm/crypto"
	"github.com/sixafter/esdm/cryptocb"
)

// Version is this module's release version, surfaced through Status.
var Version = semver.MustParse("1.0.0")

// defaultSchedulerInterval is how often the background scheduler loop
// checks every DRNG's MustReseed predicate.
const defaultSchedulerInterval = 10 * time.Second

// Manager is the top-level entry point (component C8): it owns every
// other component and is the only type most callers need to construct.
type Manager struct {
	id        uuid.UUID
	startedAt time.Time

	cfgStore *ConfigStore
	registry *Registry
	esm      *EntropySourceManager
	pool     *Pool
	atomic   *AtomicDRNG
	state    *StateMachine
	sched    *Scheduler
	logger   Logger

	nextNode atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures NewManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	cfg             Config
	logger          Logger
	sources         []Source
	drngCallback    cryptocb.DRNGCallback
	hashCallback    cryptocb.HashCallback
	atomicCallback  cryptocb.AtomicCallback
	schedulerPeriod time.Duration
	skipInitialSeed bool
}

// defaultHashCallback returns the built-in SHA-512 conditioning hash.
func defaultHashCallback() cryptocb.HashCallback {
	return esdmcrypto.BuiltinSHA512
}

// defaultDRNGCallback returns the built-in Hash-DRBG, the spec's named
// default DRNG engine.
func defaultDRNGCallback() cryptocb.DRNGCallback {
	return esdmcrypto.BuiltinHashDRBG
}

// defaultAtomicCallback returns the built-in ChaCha20-based atomic
// emergency DRNG engine.
func defaultAtomicCallback() cryptocb.AtomicCallback {
	return esdmcrypto.BuiltinAtomicChaCha20
}

// WithConfig sets the Manager's configuration, overriding DefaultConfig.
func WithConfig(cfg Config) ManagerOption {
	return func(o *managerOptions) { o.cfg = cfg }
}

// WithLogger sets the Manager's logger.
func WithLogger(logger Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithSources registers one or more entropy sources. If none are
// supplied, DefaultFallbackSource is registered automatically.
func WithSources(sources ...Source) ManagerOption {
	return func(o *managerOptions) { o.sources = append(o.sources, sources...) }
}

// WithDRNGCallback overrides the default Hash-DRBG engine (e.g. with the
// AES-CTR-DRBG alternative).
func WithDRNGCallback(cb cryptocb.DRNGCallback) ManagerOption {
	return func(o *managerOptions) { o.drngCallback = cb }
}

// WithHashCallback overrides the default SHA-512 conditioning hash.
func WithHashCallback(cb cryptocb.HashCallback) ManagerOption {
	return func(o *managerOptions) { o.hashCallback = cb }
}

// WithAtomicCallback overrides the default atomic emergency DRNG engine.
func WithAtomicCallback(cb cryptocb.AtomicCallback) ManagerOption {
	return func(o *managerOptions) { o.atomicCallback = cb }
}

// WithSchedulerPeriod overrides how often the background scheduler loop
// runs.
func WithSchedulerPeriod(d time.Duration) ManagerOption {
	return func(o *managerOptions) { o.schedulerPeriod = d }
}

// withoutInitialSeed skips the blocking initial seed pass performed by
// NewManager; unexported because it exists only for this package's own
// tests, where a Manager in the unseeded state is the point of the test.
func withoutInitialSeed() ManagerOption {
	return func(o *managerOptions) { o.skipInitialSeed = true }
}

// NewManager constructs and initializes a Manager (esdm_drng_mgr_initalize):
// it registers entropy sources, self-tests every cryptographic callback,
// allocates the per-node pool and atomic DRNG, runs one blocking seed pass
// (with entropy available, this leaves the Manager at least min_seeded; a
// pass that collects nothing is logged, not returned as an error), and
// starts the background reseed scheduler. NewManager returns an error instead of
// panicking on any self-test failure, since an embedding process may want
// to fail startup gracefully rather than crash.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := &managerOptions{
		cfg:             DefaultConfig(),
		drngCallback:    nil,
		schedulerPeriod: defaultSchedulerInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = NewNullLogger()
	}

	registry := NewRegistry()
	if len(o.sources) == 0 {
		registry.Register(DefaultFallbackSource())
	} else {
		for _, s := range o.sources {
			registry.Register(s)
		}
	}
	if err := registry.SelfTest(); err != nil {
		return nil, err
	}

	hashCB := o.hashCallback
	if hashCB == nil {
		hashCB = defaultHashCallback()
	}
	if err := hashCB.SelfTest(); err != nil {
		return nil, newError(KindSelfTestFailed, "NewManager", "conditioning hash self-test", err)
	}

	drngCB := o.drngCallback
	if drngCB == nil {
		drngCB = defaultDRNGCallback()
	}
	if err := drngCB.SelfTest(); err != nil {
		return nil, newError(KindSelfTestFailed, "NewManager", "DRNG self-test", err)
	}

	atomicCB := o.atomicCallback
	if atomicCB == nil {
		atomicCB = defaultAtomicCallback()
	}

	cfgStore := NewConfigStore(o.cfg)
	esm := NewEntropySourceManager(registry, cfgStore, o.logger)

	nodeCount := onlineNodeCount(o.cfg)
	pool, err := NewPool(nodeCount, drngCB, hashCB, o.cfg.DRNGMaxWithoutReseed)
	if err != nil {
		return nil, err
	}

	atomicDRNG, err := NewAtomicDRNG(atomicCB)
	if err != nil {
		return nil, err
	}

	state := NewStateMachine()
	sched := NewScheduler(pool, atomicDRNG, esm, state, cfgStore, o.logger)

	m := &Manager{
		id:        uuid.New(),
		startedAt: time.Now(),
		cfgStore:  cfgStore,
		registry:  registry,
		esm:       esm,
		pool:      pool,
		atomic:    atomicDRNG,
		state:     state,
		sched:     sched,
		logger:    o.logger,
		done:      make(chan struct{}),
	}

	cfgStore.OnChange(func(Config) {
		// A configuration change (e.g. raising an entropy rate) may make
		// previously-unmet thresholds reachable; nudge a seed pass rather
		// than waiting for the next scheduled tick (spec §4.7).
		go func() {
			_ = sched.RunOnce(context.Background())
		}()
	})

	if !o.skipInitialSeed {
		if err := sched.primeAll(); err != nil {
			o.logger.Warnf("initial seed pass did not fully succeed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() {
		defer close(m.done)
		sched.Start(ctx, o.schedulerPeriod)
	}()

	return m, nil
}

// Fini stops the background scheduler and waits for it to exit
// (esdm_drng_mgr_finalize). A Manager must not be used after Fini
// returns.
func (m *Manager) Fini() error {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
	return nil
}

// pickNode selects a node DRNG using a round-robin counter, approximating
// "whichever DRNG is local to this point of concurrency" without true
// per-CPU affinity.
func (m *Manager) pickNode() *DRNG {
	idx := m.nextNode.Add(1)
	return m.pool.Node(int(idx))
}

// bestAvailableDRNG returns the round-robin-selected node DRNG if that
// node is fully seeded, otherwise the init DRNG, matching
// esdm_drng_mgr_initalize's fallback order.
func (m *Manager) bestAvailableDRNG() *DRNG {
	if d := m.pickNode(); d.FullySeeded() {
		return d
	}
	return m.pool.Init()
}

// GetRandomBytesFull blocks until the Manager reaches operational, then
// fills dst from the best available DRNG (esdm_get_random_bytes_full).
func (m *Manager) GetRandomBytesFull(ctx context.Context, dst []byte) (int, error) {
	m.state.WaitAtLeast(StateOperational, ctx.Done())
	if err := ctx.Err(); err != nil {
		return 0, newError(KindTimeout, "Manager.GetRandomBytesFull", "context canceled while waiting for operational", err)
	}
	return m.bestAvailableDRNG().Generate(dst)
}

// GetRandomBytesMin blocks until the Manager reaches at least min_seeded,
// then fills dst from whatever DRNG is currently best available
// (esdm_get_random_bytes_min).
func (m *Manager) GetRandomBytesMin(ctx context.Context, dst []byte) (int, error) {
	m.state.WaitAtLeast(StateMinSeeded, ctx.Done())
	if err := ctx.Err(); err != nil {
		return 0, newError(KindTimeout, "Manager.GetRandomBytesMin", "context canceled while waiting for min_seeded", err)
	}
	return m.bestAvailableDRNG().Generate(dst)
}

// GetRandomBytes serves dst immediately without blocking, using the
// atomic DRNG if it is seeded and no node DRNG has reached min_seeded
// yet, or KindWouldBlock if nothing can serve the request yet
// (esdm_get_random_bytes' non-blocking contract).
func (m *Manager) GetRandomBytes(dst []byte) (int, error) {
	if m.state.AtLeast(StateMinSeeded) {
		return m.bestAvailableDRNG().Generate(dst)
	}
	if m.atomic.Seeded() {
		return m.atomic.Generate(dst)
	}
	return 0, newError(KindWouldBlock, "Manager.GetRandomBytes", "no DRNG seeded yet", nil)
}

// ForceReseed marks DRNGs for reseeding via Scheduler.ForceReseedAll
// (exposed for esdmctl force-reseed). It sets force_reseed flags only and
// performs no seeding itself; the reseed happens on the next scheduling
// pass.
func (m *Manager) ForceReseed() error {
	return m.sched.ForceReseedAll()
}

// WriteData injects externally supplied data as additional input to the
// atomic DRNG (esdm_drng_inject, external interface write_data(buf,
// declared_entropy_bits)). The caller declares how much entropy, in bits,
// it believes p carries; that claim is honored only outside FIPS mode or
// when the caller is privileged — under FIPS, an unprivileged caller's
// claim is always credited as zero, since the Manager has no way to
// verify an arbitrary byte slice's quality. The data itself is always
// mixed into the atomic DRNG (together with the atomic DRNG's current
// output, once it is seeded) regardless of credit, for defense-in-depth;
// only a nonzero credited amount can advance the state machine.
func (m *Manager) WriteData(p []byte, declaredEntropyBits uint32, privileged bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	cfg := m.cfgStore.Snapshot()
	credited := declaredEntropyBits
	if cfg.FIPSEnabled() && !privileged {
		credited = 0
	}
	if credited > SecurityStrengthBits {
		credited = SecurityStrengthBits
	}

	var prev []byte
	if m.atomic.Seeded() {
		prev = make([]byte, SecurityStrengthBits/8)
		defer zero(prev)
		if _, err := m.atomic.Generate(prev); err != nil {
			return 0, err
		}
	}
	mixed := m.pool.Init().hash.Sum(prev, p)
	defer zero(mixed)
	if err := m.atomic.Seed(mixed); err != nil {
		return 0, err
	}

	if credited > 0 {
		oversampled := cfg.OversampleEntropySources && cfg.FIPSEnabled()
		switch {
		case credited >= fullSeedThresholdBits(oversampled):
			m.state.Advance(StateFullySeeded)
		case credited >= MinSeedEntropyBits:
			m.state.Advance(StateMinSeeded)
		}
	}

	return len(p), nil
}

// SP80090cCompliant reports whether the Manager is currently operating
// under SP 800-90C oversampling (external interface sp80090c_compliant).
func (m *Manager) SP80090cCompliant() bool {
	cfg := m.cfgStore.Snapshot()
	return cfg.FIPSEnabled() && cfg.OversampleEntropySources
}

// AvailEntropy reports the aggregate entropy, in bits, currently
// available across registered sources (external interface avail_entropy).
func (m *Manager) AvailEntropy() uint32 {
	return m.esm.AvailEntropyBits()
}

// GetReseedMaxTime returns the configured ceiling, in seconds, between
// mandatory reseeds (external interface get_reseed_max_time).
func (m *Manager) GetReseedMaxTime() uint32 {
	return m.cfgStore.Snapshot().ReseedMaxTimeSeconds
}

// State returns the Manager's current health state.
func (m *Manager) State() State {
	return m.state.Current()
}

// Status renders a human-readable status report, analogous to
// esdm_status's "/proc"-style text block: version, uptime, state, node
// count, and per-source availability.
func (m *Manager) Status() string {
	cfg := m.cfgStore.Snapshot()

	s := fmt.Sprintf("ESDM %s (id %s)\n", Version.String(), m.id)
	s += fmt.Sprintf("  state:          %s\n", m.state.Current())
	s += fmt.Sprintf("  uptime:         %s\n", humanize.RelTime(m.startedAt, time.Now(), "ago", "from now"))
	s += fmt.Sprintf("  nodes:          %d\n", m.pool.NodeCount())
	s += fmt.Sprintf("  fips:           %v\n", cfg.FIPSEnabled())
	s += fmt.Sprintf("  sp800-90c:      %v\n", m.SP80090cCompliant())
	s += fmt.Sprintf("  avail entropy:  %d bits\n", m.AvailEntropy())
	s += fmt.Sprintf("  reseed max:     %ss\n", humanize.Comma(int64(cfg.ReseedMaxTimeSeconds)))

	for _, src := range m.registry.Sources() {
		line := fmt.Sprintf("  source %-12s available=%v", src.Name(), src.EntropyAvailable())
		if sr, ok := src.(StatusReporter); ok {
			line += " " + sr.Status()
		}
		s += line + "\n"
	}
	return s
}
