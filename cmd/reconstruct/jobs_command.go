package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marco-interact/colmap-mvp-sub000/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List reconstruction jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}
			client := newAPIClient(base)

			path := "/jobs"
			if filter := strings.TrimSpace(statusFilter); filter != "" {
				path += "?status=" + url.QueryEscape(filter)
			}
			var resp api.JobsResponse
			if err := client.getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					job.JobID,
					job.Status,
					fmt.Sprintf("%.0f%%", job.Progress),
					job.CurrentStage,
					job.Quality,
					job.CreatedAt,
				})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"JOB", "STATUS", "PROGRESS", "STAGE", "QUALITY", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by job status")
	return cmd
}
