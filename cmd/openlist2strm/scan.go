// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zfonlyone/openlist2strm/internal/models"
)

func scanCommand(configPath *string) *cobra.Command {
	var (
		folders []string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.scans.Start(ctx)

			handle, err := a.scans.StartRun(ctx, folders, force, "cli")
			if err != nil {
				return err
			}
			status, err := handle.Wait(ctx)
			if err != nil {
				return err
			}

			run, err := a.runs.Get(ctx, handle.ID)
			if err != nil {
				return err
			}
			if run != nil {
				cmd.Printf("scan %s: %s\n", run.ID, run.Status)
				cmd.Printf("  scanned=%d created=%d updated=%d deleted=%d errors=%d\n",
					run.FilesScanned, run.FilesCreated, run.FilesUpdated, run.FilesDeleted, len(run.Errors))
			}
			if status != models.ScanRunStatusCompleted {
				return fmt.Errorf("scan ended with status %s", status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&folders, "folder", nil, "Remote folder to scan (repeatable, default: all configured)")
	cmd.Flags().BoolVar(&force, "force", false, "Rewrite pointer files even when the remote entry is unchanged")

	return cmd
}

func cleanupCommand(configPath *string) *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reconcile the pointer tree against the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reconciler.Execute(cmd.Context(), !execute)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			if !execute && report.Total() > 0 {
				cmd.Println("run with --execute to apply")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Apply the removals instead of previewing them")

	return cmd
}
