package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
)

func newDemoCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Demo dataset administration",
	}
	cmd.AddCommand(newDemoResetCommand(ctx))
	return cmd
}

func newDemoResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe the catalog and seed the demo project",
		Long: "Deletes every project, scan, job, and technical details record, then seeds\n" +
			"a demo project with one completed scan. Intended for demo environments only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("prepare directories: %w", err)
			}

			store, err := catalog.Open(cfg)
			if err != nil {
				return fmt.Errorf("open catalog store: %w", err)
			}
			defer store.Close()

			project, err := store.ResetDemoData(cmd.Context())
			if err != nil {
				return fmt.Errorf("reset demo data: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog reset; seeded %s (%s)\n", project.Name, project.ID)
			return nil
		},
	}
}
