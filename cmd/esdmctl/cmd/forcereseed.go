// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sixafter/esdm"
)

// newForceReseedCommand builds a fresh in-process Manager, marks its
// DRNGs for reseeding via Manager.ForceReseed (which sets flags and does
// not itself reseed), and prints the resulting status.
func newForceReseedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "force-reseed",
		Short: "Mark DRNGs for reseeding and print the resulting status",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := esdm.NewManager(esdm.WithLogger(esdm.NewLogger()))
			if err != nil {
				return fmt.Errorf("constructing manager: %w", err)
			}
			defer mgr.Fini()

			if err := mgr.ForceReseed(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "force-reseed: %v\n", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), mgr.Status())
			return nil
		},
	}
}
