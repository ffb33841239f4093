// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "openlist2strm",
		Short: "Mirror an OpenList server into a local STRM pointer tree",
		// The bare binary serves. Subcommands cover one-shot operation.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file or directory")

	rootCmd.AddCommand(serveCommand(&configPath))
	rootCmd.AddCommand(scanCommand(&configPath))
	rootCmd.AddCommand(cleanupCommand(&configPath))
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("openlist2strm %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
