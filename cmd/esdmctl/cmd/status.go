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

// newStatusCommand builds a fresh in-process Manager, waits for it to
// finish its initial seed attempt, prints its status, and tears it down.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status of a freshly constructed Manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := esdm.NewManager(esdm.WithLogger(esdm.NewLogger()))
			if err != nil {
				return fmt.Errorf("constructing manager: %w", err)
			}
			defer mgr.Fini()

			fmt.Fprint(cmd.OutOrStdout(), mgr.Status())
			return nil
		},
	}
}
