package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/olegiv/gerrit-repo-stats/internal/config"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
	"github.com/olegiv/gerrit-repo-stats/internal/storage"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
)

// HistoryOptions holds command-line options for the history command.
type HistoryOptions struct {
	Format string
	Limit  int
	Days   int
}

func newHistoryCommand(cli *config.CLIOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [repository]",
		Short: "Show recorded runs or the recorded rows of one repository",
		Long: `Show the run history database.

Without an argument, lists the runs of the last --days days and aggregate
statistics. With a repository name, lists the rows recorded for it by each
run, newest first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, cli, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", formatTable, "Output format (table|yaml)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum rows per repository (0 for all)")
	cmd.Flags().IntVar(&opts.Days, "days", 30, "Runs from the last N days")

	return cmd
}

func runHistory(cmd *cobra.Command, cli *config.CLIOptions, opts *HistoryOptions, args []string) error {
	if opts.Format != formatTable && opts.Format != formatYAML {
		return fmt.Errorf("invalid format %q (expected %s or %s)", opts.Format, formatTable, formatYAML)
	}

	cfg, err := config.Load(cli, config.ModeHistory)
	if err != nil {
		return err
	}

	log := newStderrLogger(cmd, cfg.LogLevel)
	defer closeLogger(cmd, log)

	store, err := storage.New(cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		snaps, err := store.GetRepositoryHistory(ctx, args[0], opts.Limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			log.Info().Str("repository", args[0]).Msg("No recorded rows")
			return nil
		}
		return writeSnapshots(out, opts.Format, snaps)
	}

	runs, err := store.GetRecentRuns(ctx, opts.Days)
	if err != nil {
		return err
	}
	stats, err := store.GetStatistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	return writeRuns(out, opts.Format, runs, stats)
}

type snapshotView struct {
	Run          string `yaml:"run"`
	RunAt        string `yaml:"run_at"`
	Repository   string `yaml:"repository"`
	CreationDate string `yaml:"creation_date"`
	LastUpdate   string `yaml:"last_update"`
	LastRead     string `yaml:"last_read"`
}

func cell(v string) string {
	if !report.Known(v) {
		return report.Unknown
	}
	return v
}

func writeSnapshots(w io.Writer, format string, snaps []storage.Snapshot) error {
	views := make([]snapshotView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, snapshotView{
			Run:          s.RunID,
			RunAt:        report.FormatTime(s.RunAt),
			Repository:   s.Repository,
			CreationDate: cell(s.CreationDate),
			LastUpdate:   cell(s.LastUpdate),
			LastRead:     cell(s.LastRead),
		})
	}

	if format == formatYAML {
		return writeYAML(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN AT\tCREATED\tLAST UPDATE\tLAST READ")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.RunAt, v.CreationDate, v.LastUpdate, v.LastRead)
	}
	return tw.Flush()
}

type runView struct {
	ID           string `yaml:"id"`
	StartedAt    string `yaml:"started_at"`
	Duration     string `yaml:"duration"`
	Repositories int    `yaml:"repositories"`
	Read         int    `yaml:"read"`
	NeverRead    int    `yaml:"never_read"`
	Removed      int    `yaml:"removed"`
	Issues       int    `yaml:"issues"`
	Files        int    `yaml:"files"`
	FilesSkipped int    `yaml:"files_skipped"`
	Lines        int64  `yaml:"lines"`
	Bytes        int64  `yaml:"bytes"`
}

type statsView struct {
	TotalRuns           int     `yaml:"total_runs"`
	AvgDurationSeconds  float64 `yaml:"avg_duration_s"`
	TotalLinesScanned   int64   `yaml:"total_lines_scanned"`
	TrackedRepositories int     `yaml:"tracked_repositories"`
	LastRun             string  `yaml:"last_run,omitempty"`
}

func newStatsView(stats map[string]interface{}) statsView {
	var v statsView
	v.TotalRuns, _ = stats["total_runs"].(int)
	if ms, ok := stats["avg_duration_ms"].(float64); ok {
		v.AvgDurationSeconds = ms / 1000
	}
	v.TotalLinesScanned, _ = stats["total_lines_scanned"].(int64)
	v.TrackedRepositories, _ = stats["tracked_repositories"].(int)
	if t, ok := stats["last_run"].(time.Time); ok {
		v.LastRun = report.FormatTime(t)
	}
	return v
}

func writeRuns(w io.Writer, format string, runs []*storage.Run, stats map[string]interface{}) error {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, runView{
			ID:           r.ID,
			StartedAt:    report.FormatTime(r.StartedAt),
			Duration:     r.Duration().Round(time.Millisecond).String(),
			Repositories: r.Repositories,
			Read:         r.Read,
			NeverRead:    r.NeverRead,
			Removed:      r.Removed,
			Issues:       r.Issues,
			Files:        r.FilesScanned,
			FilesSkipped: r.FilesSkipped,
			Lines:        r.LinesScanned,
			Bytes:        r.BytesScanned,
		})
	}
	sv := newStatsView(stats)

	if format == formatYAML {
		return writeYAML(w, struct {
			Statistics statsView `yaml:"statistics"`
			Runs       []runView `yaml:"runs"`
		}{sv, views})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tDURATION\tREPOS\tREAD\tNEVER READ\tREMOVED\tISSUES\tFILES\tSCANNED")
	for _, v := range views {
		files := fmt.Sprint(v.Files)
		if v.FilesSkipped > 0 {
			files += fmt.Sprintf(" (%d skipped)", v.FilesSkipped)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			v.StartedAt, v.Duration, v.Repositories, v.Read, v.NeverRead, v.Removed, v.Issues,
			files, humanize.Bytes(uint64(max(v.Bytes, 0))))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "\n%s runs recorded, %s repositories tracked, %s lines scanned",
		humanize.Comma(int64(sv.TotalRuns)), humanize.Comma(int64(sv.TrackedRepositories)), humanize.Comma(sv.TotalLinesScanned))
	if sv.LastRun != "" {
		fmt.Fprintf(&summary, ", last run %s", sv.LastRun)
	}
	_, err := fmt.Fprintln(w, summary.String())
	return err
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
