package cli

import (
	"github.com/spf13/cobra"

	"github.com/olegiv/gerrit-repo-stats/internal/app"
	"github.com/olegiv/gerrit-repo-stats/internal/config"
)

func newReportCommand(cli *config.CLIOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the repository activity report",
		Long: `Build the repository activity report.

Lists the repositories on the Gerrit server, scans the access logs, looks up
missing creation dates and the latest change update, then rewrites the CSV
report. The run is recorded in the history database and, when a bot token is
configured, summarised on Telegram.

Creation dates already in the previous report are kept. A repository whose
sources are unavailable is still reported, with N/A for the unknown fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, cli)
		},
	}

	cmd.Flags().StringVar(&cli.GerritURL, "gerrit-url", "", "Gerrit base URL")
	cmd.Flags().StringVarP(&cli.ReportPath, "output", "o", "", "Report CSV path")
	cmd.Flags().BoolVar(&cli.NoDatabase, "no-db", false, "Do not record the run in the history database")
	cmd.Flags().BoolVar(&cli.NoNotify, "no-notify", false, "Do not send the Telegram summary")

	return cmd
}

func runReport(cmd *cobra.Command, cli *config.CLIOptions) error {
	cfg, err := config.Load(cli, config.ModeReport)
	if err != nil {
		return err
	}

	log := newFileLogger(cfg)
	defer closeLogger(cmd, log)

	log.Info().
		Str("gerrit", cfg.GerritURL).
		Str("log_dir", cfg.LogDir).
		Str("report", cfg.ReportPath).
		Msg("Starting repository report")

	pipeline, cleanup, err := app.Build(cfg, config.ModeReport, log)
	defer cleanup()
	if err != nil {
		log.Error().Err(err).Msg("Initialization failed")
		return err
	}

	if _, err := pipeline.Report(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("Report failed")
		return err
	}
	return nil
}
