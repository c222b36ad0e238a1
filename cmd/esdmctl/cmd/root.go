// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package cmd implements esdmctl, a local, in-process debug CLI around
// an embedded esdm.Manager. It exists to inspect and poke a Manager from
// a terminal during development; it is not the daemon's RPC/CUSE
// front-end, which is a separate, out-of-scope wire protocol that a real
// client would use to reach a long-running daemon process.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the base esdmctl command.
var RootCmd = &cobra.Command{
	Use:   "esdmctl",
	Short: "Inspect and drive a local ESDM manager instance",
	Long: `esdmctl constructs an esdm.Manager in-process, runs a requested
operation against it, and exits. It is a development aid, not a client
for a separately running daemon.`,
}

// Execute runs the root command, exiting the process with a non-zero
// status on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "esdmctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(newStatusCommand())
	RootCmd.AddCommand(newForceReseedCommand())
}
