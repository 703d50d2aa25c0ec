package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "repostats %s\n", info.Version)
			if info.Commit != "" && info.Commit != "unknown" {
				_, _ = fmt.Fprintf(out, "  commit: %s\n", info.Commit)
			}
			if info.BuildTime != "" && info.BuildTime != "unknown" {
				_, _ = fmt.Fprintf(out, "  built:  %s\n", info.BuildTime)
			}
		},
	}
}
