package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a job's sparse model in another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}
			client := newAPIClient(base)

			normalized := strings.ToLower(strings.TrimSpace(format))
			path := "/reconstruction/" + args[0] + "/export?format=" + url.QueryEscape(normalized)

			target := strings.TrimSpace(output)
			if target == "" {
				target = fmt.Sprintf("%s.%s", args[0], normalized)
			}
			if dir := filepath.Dir(target); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("prepare output directory: %w", err)
				}
			}

			dest, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer dest.Close()

			written, err := client.download(cmd.Context(), path, dest)
			if err != nil {
				_ = os.Remove(target)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", target, written)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "ply", "Export format (bin, txt, ply, nvm)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (defaults to <job-id>.<format>)")
	return cmd
}
