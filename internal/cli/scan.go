package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/olegiv/gerrit-repo-stats/internal/accesslog"
	"github.com/olegiv/gerrit-repo-stats/internal/app"
	"github.com/olegiv/gerrit-repo-stats/internal/config"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
)

// ScanOptions holds command-line options for the scan command.
type ScanOptions struct {
	Stdin bool
}

func newScanCommand(cli *config.CLIOptions) *cobra.Command {
	opts := &ScanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the access logs and print the last read of each repository",
		Long: `Scan the Gerrit access logs without contacting the server.

Prints one line per repository read in the logs, sorted by name:

  <repository><TAB><last read, RFC 3339 UTC>

Request paths that carried a timestamp but named no repository are written
to the unclassified requests file when one is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, cli, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Stdin, "stdin", false, "Read access log lines from stdin instead of the log directory")

	return cmd
}

func runScan(cmd *cobra.Command, cli *config.CLIOptions, opts *ScanOptions) error {
	cfg, err := config.Load(cli, config.ModeScan)
	if err != nil {
		return err
	}

	log := newStderrLogger(cmd, cfg.LogLevel)
	defer closeLogger(cmd, log)

	pipeline, cleanup, err := app.Build(cfg, config.ModeScan, log)
	defer cleanup()
	if err != nil {
		return err
	}

	var result *accesslog.Result
	if opts.Stdin {
		result, err = pipeline.ScanReader(cmd.InOrStdin())
	} else {
		result, err = pipeline.Scan(cmd.Context())
	}
	if err != nil {
		return err
	}

	return printLastRead(cmd.OutOrStdout(), result.LastRead)
}

func printLastRead(w io.Writer, lastRead map[string]time.Time) error {
	names := make([]string, 0, len(lastRead))
	for name := range lastRead {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, report.FormatTime(lastRead[name])); err != nil {
			return err
		}
	}
	return nil
}
