// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Security and timing constants. These are architectural constants of the
// ESDM design, not runtime-tunable configuration keys.
const (
	// SecurityStrengthBits is the maximum entropy, in bits, credited to any
	// single seed buffer.
	SecurityStrengthBits = 256

	// MinSeedEntropyBits is the threshold at which the state machine advances
	// from unseeded to min_seeded.
	MinSeedEntropyBits = 128

	// OversampleSlackBits is added to every seed request when SP 800-90C
	// compliance is in effect.
	OversampleSlackBits = 128

	// ReseedThreshold is the number of generate calls ("requests") that may
	// elapse before a DRNG must reseed.
	ReseedThreshold = 4096

	// MaxRequestSize bounds a single DRNG generate call so the underlying
	// DRBG never exceeds its specified per-request limit.
	MaxRequestSize = 1 << 16

	// defaultReseedMaxTimeSeconds is the default ceiling on time between
	// reseeds, checked by the scheduler's periodic pass (DRNG.MustReseed);
	// the generate path does not check it.
	defaultReseedMaxTimeSeconds = 600

	// defaultDRNGMaxWithoutReseed is the default ceiling on generate calls
	// a DRNG may serve since its last full seed; once exceeded, the DRNG
	// loses its fully-seeded status.
	defaultDRNGMaxWithoutReseed = 10000

	// envPrefix is the environment variable prefix read by Load.
	envPrefix = "ESDM"
)

// FIPSMode is the tri-state configuration for force_fips.
type FIPSMode int

const (
	// FIPSUnset defers to the host's FIPS indicator.
	FIPSUnset FIPSMode = iota
	// FIPSOn forces FIPS-compliant behavior regardless of host state.
	FIPSOn
	// FIPSOff forces FIPS-compliant behavior off regardless of host state.
	FIPSOff
)

// Config holds the process-wide, read-mostly runtime configuration
// described in spec §3/§4.7/§6. A Config value is immutable once
// constructed; mutation happens by building a new Config and swapping it
// into a ConfigStore.
type Config struct {
	// ESCPUEntropyRateBits is the configured entropy rate, in bits per
	// 256-bit pool fill, for the CPU-RNG source ("es_cpu_entropy_rate_bits").
	ESCPUEntropyRateBits uint32

	// ESJitterEntropyRateBits is the configured entropy rate for the jitter
	// RNG source ("es_jent_entropy_rate_bits").
	ESJitterEntropyRateBits uint32

	// ESKernelRNGEntropyRateBits is the configured entropy rate for the
	// kernel RNG source ("es_krng_entropy_rate_bits").
	ESKernelRNGEntropyRateBits uint32

	// ESSchedEntropyRateBits is the configured entropy rate for the
	// scheduler/IRQ source ("es_sched_entropy_rate_bits").
	ESSchedEntropyRateBits uint32

	// DRNGMaxWithoutReseed is the reseed ceiling in generate calls
	// ("drng_max_wo_reseed").
	DRNGMaxWithoutReseed uint32

	// MaxNodes caps the number of per-node DRNG pool entries.
	MaxNodes uint32

	// ForceFIPS overrides the host FIPS indicator when not FIPSUnset.
	ForceFIPS FIPSMode

	// ReseedMaxTimeSeconds bounds the time between mandatory reseeds,
	// checked on each scheduler pass. 0 disables the time-based trigger;
	// it does not cause a reseed before every generate call.
	ReseedMaxTimeSeconds uint32

	// OversampleEntropySources mirrors the ESDM_OVERSAMPLE_ENTROPY_SOURCES
	// build option: when true and FIPS is active, every seed requests
	// OversampleSlackBits of additional entropy.
	OversampleEntropySources bool
}

// clampRate clamps an entropy rate to the security strength.
func clampRate(bits uint32) uint32 {
	if bits > SecurityStrengthBits {
		return SecurityStrengthBits
	}
	return bits
}

// DefaultConfig returns a Config populated with the documented defaults.
// FIPS jitter default: per spec §4.1, when FIPS is active and the
// built-in jitter default is non-zero, jitter is treated as full-entropy
// unless overridden — realized here by defaulting the jitter rate to the
// full security strength.
func DefaultConfig() Config {
	return Config{
		ESCPUEntropyRateBits:       0,
		ESJitterEntropyRateBits:    SecurityStrengthBits,
		ESKernelRNGEntropyRateBits: 0,
		ESSchedEntropyRateBits:     0,
		DRNGMaxWithoutReseed:       defaultDRNGMaxWithoutReseed,
		MaxNodes:                   uint32(runtime.NumCPU()),
		ForceFIPS:                  FIPSUnset,
		ReseedMaxTimeSeconds:       defaultReseedMaxTimeSeconds,
		OversampleEntropySources:   true,
	}
}

// clamped returns a copy of cfg with every entropy rate clamped to the
// security strength, as spec §3 requires of every setter.
func (cfg Config) clamped() Config {
	cfg.ESCPUEntropyRateBits = clampRate(cfg.ESCPUEntropyRateBits)
	cfg.ESJitterEntropyRateBits = clampRate(cfg.ESJitterEntropyRateBits)
	cfg.ESKernelRNGEntropyRateBits = clampRate(cfg.ESKernelRNGEntropyRateBits)
	cfg.ESSchedEntropyRateBits = clampRate(cfg.ESSchedEntropyRateBits)
	return cfg
}

// FIPSEnabled returns ForceFIPS when set, otherwise queries the host's
// FIPS indicator (best-effort; false if undeterminable).
func (cfg Config) FIPSEnabled() bool {
	switch cfg.ForceFIPS {
	case FIPSOn:
		return true
	case FIPSOff:
		return false
	default:
		return hostFIPSEnabled()
	}
}

// hostFIPSEnabled reads the Linux FIPS indicator. Any other platform, or
// any read failure, is treated as FIPS-disabled.
func hostFIPSEnabled() bool {
	b, err := os.ReadFile("/proc/sys/crypto/fips_enabled")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == "1"
}

// Option mutates a Config during construction, in the functional-options
// idiom used throughout this codebase's ancestry.
type Option func(*Config)

// WithCPUEntropyRateBits sets the CPU-RNG source's entropy rate.
func WithCPUEntropyRateBits(bits uint32) Option {
	return func(c *Config) { c.ESCPUEntropyRateBits = bits }
}

// WithJitterEntropyRateBits sets the jitter-RNG source's entropy rate.
func WithJitterEntropyRateBits(bits uint32) Option {
	return func(c *Config) { c.ESJitterEntropyRateBits = bits }
}

// WithKernelRNGEntropyRateBits sets the kernel-RNG source's entropy rate.
func WithKernelRNGEntropyRateBits(bits uint32) Option {
	return func(c *Config) { c.ESKernelRNGEntropyRateBits = bits }
}

// WithSchedEntropyRateBits sets the scheduler/IRQ source's entropy rate.
func WithSchedEntropyRateBits(bits uint32) Option {
	return func(c *Config) { c.ESSchedEntropyRateBits = bits }
}

// WithDRNGMaxWithoutReseed sets the reseed ceiling in generate calls.
func WithDRNGMaxWithoutReseed(n uint32) Option {
	return func(c *Config) { c.DRNGMaxWithoutReseed = n }
}

// WithMaxNodes caps the number of per-node DRNG pool entries.
func WithMaxNodes(n uint32) Option {
	return func(c *Config) { c.MaxNodes = n }
}

// WithForceFIPS overrides the host FIPS indicator.
func WithForceFIPS(mode FIPSMode) Option {
	return func(c *Config) { c.ForceFIPS = mode }
}

// WithReseedMaxTimeSeconds bounds the time between mandatory reseeds.
func WithReseedMaxTimeSeconds(seconds uint32) Option {
	return func(c *Config) { c.ReseedMaxTimeSeconds = seconds }
}

// WithOversampleEntropySources toggles the SP 800-90C oversampling build
// option.
func WithOversampleEntropySources(enabled bool) Option {
	return func(c *Config) { c.OversampleEntropySources = enabled }
}

// NewConfig builds a Config from DefaultConfig with opts applied, clamped
// to the security strength.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.clamped()
}

// ConfigStore holds the current Config behind a single mutex (spec §5:
// "one configuration mutex (rare writes)"), and notifies a registered
// callback after every mutation so the scheduler can re-evaluate fullness
// immediately, per spec §4.7.
type ConfigStore struct {
	mu       sync.Mutex
	cfg      Config
	onChange func(Config)
}

// NewConfigStore constructs a ConfigStore seeded with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg.clamped()}
}

// OnChange registers fn to be invoked, outside the store's lock, after
// every successful mutation. Only one callback may be registered; later
// calls replace the earlier one.
func (s *ConfigStore) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current configuration.
func (s *ConfigStore) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// mutate applies fn to a copy of the current config, clamps it, stores
// it, and fires the change callback.
func (s *ConfigStore) mutate(fn func(*Config)) {
	s.mu.Lock()
	cfg := s.cfg
	fn(&cfg)
	cfg = cfg.clamped()
	s.cfg = cfg
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(cfg)
	}
}

// SetCPUEntropyRateBits sets and clamps the CPU-RNG source's entropy rate.
func (s *ConfigStore) SetCPUEntropyRateBits(bits uint32) {
	s.mutate(func(c *Config) { c.ESCPUEntropyRateBits = bits })
}

// SetJitterEntropyRateBits sets and clamps the jitter-RNG source's entropy rate.
func (s *ConfigStore) SetJitterEntropyRateBits(bits uint32) {
	s.mutate(func(c *Config) { c.ESJitterEntropyRateBits = bits })
}

// SetKernelRNGEntropyRateBits sets and clamps the kernel-RNG source's entropy rate.
func (s *ConfigStore) SetKernelRNGEntropyRateBits(bits uint32) {
	s.mutate(func(c *Config) { c.ESKernelRNGEntropyRateBits = bits })
}

// SetSchedEntropyRateBits sets and clamps the scheduler/IRQ source's entropy rate.
func (s *ConfigStore) SetSchedEntropyRateBits(bits uint32) {
	s.mutate(func(c *Config) { c.ESSchedEntropyRateBits = bits })
}

// SetMaxNodes updates the per-node DRNG pool cap.
func (s *ConfigStore) SetMaxNodes(n uint32) {
	s.mutate(func(c *Config) { c.MaxNodes = n })
}

// SetForceFIPS updates the FIPS override.
func (s *ConfigStore) SetForceFIPS(mode FIPSMode) {
	s.mutate(func(c *Config) { c.ForceFIPS = mode })
}

// SetDRNGMaxWithoutReseed updates the reseed ceiling in generate calls.
func (s *ConfigStore) SetDRNGMaxWithoutReseed(n uint32) {
	s.mutate(func(c *Config) { c.DRNGMaxWithoutReseed = n })
}

// Load reads configuration keys from ESDM_*-prefixed environment variables
// (and, if present, an esdm.yaml in one of configDirs) into a fresh Config
// built from DefaultConfig, using viper in the pattern of
// rancher/elemental-toolkit's ReadConfigRun/ReadConfigBuild.
func Load(configDirs ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("esdm")
	v.SetConfigType("yaml")
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}

	cfg := DefaultConfig()
	v.SetDefault("es_cpu_entropy_rate_bits", cfg.ESCPUEntropyRateBits)
	v.SetDefault("es_jent_entropy_rate_bits", cfg.ESJitterEntropyRateBits)
	v.SetDefault("es_krng_entropy_rate_bits", cfg.ESKernelRNGEntropyRateBits)
	v.SetDefault("es_sched_entropy_rate_bits", cfg.ESSchedEntropyRateBits)
	v.SetDefault("drng_max_wo_reseed", cfg.DRNGMaxWithoutReseed)
	v.SetDefault("max_nodes", cfg.MaxNodes)
	v.SetDefault("force_fips", "unset")
	v.SetDefault("reseed_max_time_seconds", cfg.ReseedMaxTimeSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, newError(KindInvalidArgument, "Load", "reading config file", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg.ESCPUEntropyRateBits = v.GetUint32("es_cpu_entropy_rate_bits")
	cfg.ESJitterEntropyRateBits = v.GetUint32("es_jent_entropy_rate_bits")
	cfg.ESKernelRNGEntropyRateBits = v.GetUint32("es_krng_entropy_rate_bits")
	cfg.ESSchedEntropyRateBits = v.GetUint32("es_sched_entropy_rate_bits")
	cfg.DRNGMaxWithoutReseed = v.GetUint32("drng_max_wo_reseed")
	cfg.MaxNodes = v.GetUint32("max_nodes")
	cfg.ReseedMaxTimeSeconds = v.GetUint32("reseed_max_time_seconds")

	switch strings.ToLower(v.GetString("force_fips")) {
	case "on":
		cfg.ForceFIPS = FIPSOn
	case "off":
		cfg.ForceFIPS = FIPSOff
	default:
		cfg.ForceFIPS = FIPSUnset
	}

	return cfg.clamped(), nil
}

// String renders the configured force_fips tri-state for diagnostics.
func (m FIPSMode) String() string {
	switch m {
	case FIPSOn:
		return "on"
	case FIPSOff:
		return "off"
	default:
		return "unset"
	}
}
