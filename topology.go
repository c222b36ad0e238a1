// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import "runtime"

// onlineNodeCount returns the number of per-node DRNG pool entries to
// allocate. True NUMA node enumeration is platform-specific and out of
// scope; this approximates "one DRNG per point of concurrency" with
// runtime.NumCPU(), capped by Config.MaxNodes so a large machine doesn't
// force an unbounded number of DRBG instances.
func onlineNodeCount(cfg Config) int {
	n := runtime.NumCPU()
	if cfg.MaxNodes > 0 && uint32(n) > cfg.MaxNodes {
		n = int(cfg.MaxNodes)
	}
	if n < 1 {
		n = 1
	}
	return n
}
