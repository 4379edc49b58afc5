package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marco-interact/colmap-mvp-sub000/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}
			client := newAPIClient(base)

			var health api.HealthResponse
			if err := client.getJSON(cmd.Context(), "/health", &health); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:       %s (v%s)\n", health.Status, health.Version)
			fmt.Fprintf(out, "Endpoint:     %s\n", base)
			fmt.Fprintf(out, "Compute tier: %s\n", health.ComputeTier)
			fmt.Fprintf(out, "Engine:       %s\n", health.Engine)
			fmt.Fprintf(out, "Uptime:       %s\n", (time.Duration(health.UptimeS) * time.Second).String())
			fmt.Fprintf(out, "Active jobs:  %s\n", strconv.Itoa(health.ActiveJobs))
			fmt.Fprintf(out, "Queued jobs:  %s\n", strconv.Itoa(health.QueuedJobs))
			return nil
		},
	}
}
