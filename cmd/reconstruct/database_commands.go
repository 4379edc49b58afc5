package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marco-interact/colmap-mvp-sub000/internal/api"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <job-id>",
		Short: "Show feature database statistics for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}
			client := newAPIClient(base)

			var stats api.InspectResponse
			path := "/reconstruction/" + args[0] + "/database/inspect"
			if err := client.getJSON(cmd.Context(), path, &stats); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := [][]string{
				{"Database", stats.Path},
				{"Size", fmt.Sprintf("%d bytes", stats.SizeBytes)},
				{"Cameras", strconv.FormatInt(stats.Cameras, 10)},
				{"Images", strconv.FormatInt(stats.Images, 10)},
				{"Features", strconv.FormatInt(stats.Features, 10)},
				{"Match pairs", strconv.FormatInt(stats.MatchPairs, 10)},
				{"Matches", strconv.FormatInt(stats.Matches, 10)},
				{"Verified pairs", strconv.FormatInt(stats.VerifiedPairs, 10)},
				{"Verified matches", strconv.FormatInt(stats.Verified, 10)},
				{"Inlier ratio", fmt.Sprintf("%.2f", stats.InlierRatio)},
				{"Mean features/image", fmt.Sprintf("%.1f", stats.MeanFeatures)},
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"FIELD", "VALUE"},
				rows,
				[]columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <job-id>",
		Short: "Prune unused rows from a job's feature database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}
			client := newAPIClient(base)

			var result api.CleanResponse
			path := "/reconstruction/" + args[0] + "/database/clean"
			if err := client.postJSON(cmd.Context(), path, nil, &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d rows\n", result.RowsRemoved)
			fmt.Fprintf(out, "Backup: %s\n", result.BackupPath)
			return nil
		},
	}
}
